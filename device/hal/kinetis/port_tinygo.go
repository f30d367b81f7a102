//go:build tinygo && kinetis

package kinetis

import (
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"
)

// USB0 register block and the clock gate controlling it (KL2x memory map).
const (
	usb0Base    uintptr = 0x40072000
	simSCGC4    uintptr = 0x40048034
	simSOPT2    uintptr = 0x40048004
	scgc4USBOTG uint32  = 1 << 18
	sopt2USBSRC uint32  = 1 << 18
	irqUSB0             = 24
)

var usb0Handler func()

func usb0ISR(interrupt.Interrupt) {
	if h := usb0Handler; h != nil {
		h()
	}
}

// Hardware is the [Port] of the on-chip USB0 peripheral.
type Hardware struct {
	irq   interrupt.Interrupt
	state interrupt.State
}

// USB0 is the only USB-FS instance of the KL2x family.
var USB0 = &Hardware{}

func usbReg8(r Register) *volatile.Register8 {
	return (*volatile.Register8)(unsafe.Pointer(usb0Base + uintptr(r)))
}

func (h *Hardware) Read(r Register) uint8 { return usbReg8(r).Get() }

func (h *Hardware) Write(r Register, v uint8) { usbReg8(r).Set(v) }

func (h *Hardware) EnableClock() {
	(*volatile.Register32)(unsafe.Pointer(simSOPT2)).SetBits(sopt2USBSRC)
	(*volatile.Register32)(unsafe.Pointer(simSCGC4)).SetBits(scgc4USBOTG)
}

// EnableIRQ installs handler as the USB0 service routine. Cortex-M0+
// implements the top two priority bits only.
func (h *Hardware) EnableIRQ(handler func(), priority uint8) {
	usb0Handler = handler
	h.irq = interrupt.New(irqUSB0, usb0ISR)
	h.irq.SetPriority(priority << 6)
	h.irq.Enable()
}

func (h *Hardware) DisableIRQ() {
	h.irq.Disable()
}

// Lock masks every interrupt. The section is never held by the handler and
// thread code at once, so one saved state suffices.
func (h *Hardware) Lock() { h.state = interrupt.Disable() }

// Unlock restores the interrupt mask saved by Lock.
func (h *Hardware) Unlock() { interrupt.Restore(h.state) }

func (h *Hardware) MapTable(t *Table) uint32 {
	return uint32(uintptr(unsafe.Pointer(t.Entry(0))))
}

func (h *Hardware) MapBuffer(b []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
}
