// Package hal defines the types shared between a USB device controller
// driver and the protocol stack layered above it.
//
// The driver packages under this directory speak to the upper layer only
// through these types:
//
//   - [SetupPacket] and the standard request codes for SETUP decoding
//   - [EndpointType] for endpoint transfer types
//   - [Event] for bus-level notifications (reset, address, suspend, ...)
//   - [Speed] for the negotiated connection speed
//
// # Zero-Allocation Design
//
// [SetupPacket] is parsed into caller-provided storage and marshalled into
// caller-provided buffers, so it can be used from interrupt context.
//
// # Example
//
//	var setup hal.SetupPacket
//	if hal.ParseSetupPacket(raw[:], &setup) && setup.Request == hal.RequestSetAddress {
//	    // status stage first, address latch after the IN acknowledgment
//	}
//
// The Kinetis USB-FS driver lives in
// [github.com/ardnew/usbfs/device/hal/kinetis].
package hal
