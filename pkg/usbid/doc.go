// Package usbid names USB vendors and products from a usb.ids database.
//
// The database format is the one maintained at linux-usb.org and shipped
// by most distributions: a vendor line holds a four-digit hex ID and a
// name, and the tab-indented lines under it name that vendor's products.
// Class, language and other sections are skipped.
//
//	db, err := usbid.Open(usbid.DefaultPaths...)
//	if err != nil {
//	    db = usbid.Builtin()
//	}
//	fmt.Println(db.Name(0x16c0, 0x0483))
//
// [Builtin] carries the few IDs the simulated examples enumerate, so they
// print names on hosts without a database.
package usbid
