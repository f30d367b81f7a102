package usbid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ErrNotFound means none of the candidate database files could be opened.
var ErrNotFound = errors.New("usb.ids database not found")

// DefaultPaths lists the standard locations of the USB ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database maps vendor and product IDs to names. It is safe for
// concurrent use.
type Database struct {
	mu       sync.RWMutex
	vendors  map[uint16]string
	products map[uint32]string // vid<<16 | pid
}

func newDatabase() *Database {
	return &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
}

func productKey(vid, pid uint16) uint32 { return uint32(vid)<<16 | uint32(pid) }

// Parse reads a database in usb.ids format from r.
func Parse(r io.Reader) (*Database, error) {
	db := newDatabase()
	if err := db.parse(r); err != nil {
		return nil, err
	}
	return db, nil
}

// Open parses the first of paths that can be opened.
func Open(paths ...string) (*Database, error) {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		defer f.Close()
		db, err := Parse(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("%w in %s", ErrNotFound, strings.Join(paths, ", "))
}

// Builtin returns a small database of well-known development IDs.
func Builtin() *Database {
	db := newDatabase()
	db.Add(0x16c0, 0, "Van Ooijen Technische Informatica")
	db.Add(0x16c0, 0x0483, "Teensyduino Serial")
	db.Add(0x16c0, 0x0486, "Teensyduino RawHID")
	db.Add(0x1209, 0, "Generic")
	db.Add(0x1209, 0x0001, "pid.codes Test PID")
	return db
}

// Add names a vendor, or with a non-zero pid, one of its products.
func (db *Database) Add(vid, pid uint16, name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if pid == 0 {
		db.vendors[vid] = name
		return
	}
	db.products[productKey(vid, pid)] = name
}

func (db *Database) parse(r io.Reader) error {
	sc := bufio.NewScanner(r)
	var vid uint16
	inVendor := false

	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		if line[0] == '\t' {
			// Interface lines are indented twice and are not products.
			if !inVendor || strings.HasPrefix(line, "\t\t") {
				continue
			}
			if id, name, ok := splitEntry(line[1:]); ok {
				db.products[productKey(vid, id)] = name
			}
			continue
		}

		// Any other top-level section, such as "C 03  Human Interface
		// Device", ends the vendor list it interrupts.
		id, name, ok := splitEntry(line)
		inVendor = ok
		if ok {
			vid = id
			db.vendors[vid] = name
		}
	}
	return sc.Err()
}

// splitEntry splits "xxxx  Name" into its ID and name.
func splitEntry(s string) (uint16, string, bool) {
	if len(s) < 6 || s[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimLeft(s[5:], " ")
	if name == "" {
		return 0, "", false
	}
	return uint16(id), name, true
}

// Vendor returns the name of vid, or "" if it is unknown.
func (db *Database) Vendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// Product returns the name of pid under vid, or "" if it is unknown.
func (db *Database) Product(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[productKey(vid, pid)]
}

// Name describes a device as "vvvv:pppp Vendor Product", leaving out the
// names that are unknown.
func (db *Database) Name(vid, pid uint16) string {
	s := fmt.Sprintf("%04x:%04x", vid, pid)
	if v := db.Vendor(vid); v != "" {
		s += " " + v
	}
	if p := db.Product(vid, pid); p != "" {
		s += " " + p
	}
	return s
}

// Len returns the number of vendors and products known.
func (db *Database) Len() (vendors, products int) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors), len(db.products)
}
