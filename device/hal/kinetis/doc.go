// Package kinetis is the low-level USB full-speed device driver for the
// USB0 controller of the Kinetis KL2x family.
//
// The controller moves packets by DMA through the buffer descriptor table
// ([Table]): four descriptors per endpoint, one even and one odd bank for
// each direction. A descriptor belongs to the controller while its OWN bit
// is set. Once the controller hands it back, the token PID and byte count
// describe the transaction that completed. The driver keeps a software copy
// of the next bank and data toggle for each direction in [InState] and
// [OutState]. For the receive direction the controller's choice of bank,
// reported in STAT, always wins.
//
// Receive banks of a non-control endpoint are armed only while an OUT
// transfer is pending, one per packet it still expects, so the controller
// NAKs data nobody has room for. Control endpoints keep both banks armed
// so a SETUP is accepted at any time.
//
// # Concurrency
//
// A [Driver] has one critical section, the [Section], entered through the
// [Port]: interrupts are masked on target, a mutex guards it in the
// simulator. [Driver.ServeInterrupt] holds it while it runs, and every
// callback receives the held *Section:
//
//	cfg := &kinetis.EndpointConfig{
//	    Type:      hal.EndpointTypeBulk,
//	    InMaxSize: 64,
//	    InState:   &in,
//	    In: func(s *kinetis.Section, ep uint8) {
//	        s.BeginTransmit(ep, next())
//	    },
//	}
//
// Thread code either calls the locking wrappers on *Driver or holds the
// section explicitly:
//
//	s := drv.Lock()
//	err := s.BeginTransmit(1, data)
//	s.Unlock()
//
// # Ports
//
// The driver reaches the hardware only through a [Port]. On target the Port
// is the memory-mapped peripheral. For host-side testing package
// [github.com/ardnew/usbfs/device/hal/kinetis/sim] provides a simulated
// peripheral that also plays the USB host.
package kinetis
