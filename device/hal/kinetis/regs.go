package kinetis

import (
	"golang.org/x/exp/constraints"
)

// Register is the byte offset of a USB0 register from the peripheral base.
type Register uint16

// USB0 register offsets (KL2x reference manual, USB OTG controller).
const (
	RegPERID    Register = 0x000 // Peripheral ID
	RegOTGISTAT Register = 0x010 // OTG Interrupt Status
	RegISTAT    Register = 0x080 // Interrupt Status (write 1 to clear)
	RegINTEN    Register = 0x084 // Interrupt Enable
	RegERRSTAT  Register = 0x088 // Error Interrupt Status (write 1 to clear)
	RegERREN    Register = 0x08C // Error Interrupt Enable
	RegSTAT     Register = 0x090 // Status (head of the token-done FIFO)
	RegCTL      Register = 0x094 // Control
	RegADDR     Register = 0x098 // Address
	RegBDTPAGE1 Register = 0x09C // BDT Page 1 (address bits 15:9)
	RegFRMNUML  Register = 0x0A0 // Frame Number Low
	RegFRMNUMH  Register = 0x0A4 // Frame Number High
	RegTOKEN    Register = 0x0A8 // Token (host mode only)
	RegSOFTHLD  Register = 0x0AC // SOF Threshold
	RegBDTPAGE2 Register = 0x0B0 // BDT Page 2 (address bits 23:16)
	RegBDTPAGE3 Register = 0x0B4 // BDT Page 3 (address bits 31:24)
	RegENDPT0   Register = 0x0C0 // Endpoint Control 0 (array, stride 4)
	RegUSBCTRL  Register = 0x100 // USB Control
	RegOBSERVE  Register = 0x104 // USB OTG Observe
	RegCONTROL  Register = 0x108 // USB OTG Control
	RegUSBTRC0  Register = 0x10C // USB Transceiver Control 0
)

// MaxEndpoints is the number of ENDPT registers implemented by USB0.
const MaxEndpoints = 16

// endptStride is the distance between consecutive ENDPT registers.
const endptStride = 4

// RegENDPT returns the endpoint control register for endpoint n.
func RegENDPT(n uint8) Register {
	return RegENDPT0 + Register(n)*endptStride
}

// ISTAT and INTEN bits.
const (
	IntUSBRST uint8 = 1 << 0 // Valid USB reset received
	IntERROR  uint8 = 1 << 1 // ERRSTAT condition triggered
	IntSOFTOK uint8 = 1 << 2 // Start of frame token received
	IntTOKDNE uint8 = 1 << 3 // Token processing completed
	IntSLEEP  uint8 = 1 << 4 // Constant idle on the bus for 3 ms
	IntRESUME uint8 = 1 << 5 // K-state observed while suspended
	IntATTACH uint8 = 1 << 6 // Attach detected (host mode)
	IntSTALL  uint8 = 1 << 7 // STALL handshake sent

	// IntAll is the interrupt set enabled once the bus has been reset.
	IntAll = IntTOKDNE | IntSOFTOK | IntSTALL | IntERROR | IntUSBRST | IntSLEEP
)

// ERRSTAT and ERREN bits.
const (
	ErrPIDERR  uint8 = 1 << 0
	ErrCRC5EOF uint8 = 1 << 1
	ErrCRC16   uint8 = 1 << 2
	ErrDFN8    uint8 = 1 << 3
	ErrBTOERR  uint8 = 1 << 4
	ErrDMAERR  uint8 = 1 << 5
	ErrBTSERR  uint8 = 1 << 7
)

// CTL bits.
const (
	CtlUSBENSOFEN         uint8 = 1 << 0 // USB enable (device mode)
	CtlODDRST             uint8 = 1 << 1 // Reset all BDT ping-pong pointers to even
	CtlRESUME             uint8 = 1 << 2
	CtlHOSTMODEEN         uint8 = 1 << 3
	CtlRESET              uint8 = 1 << 4
	CtlTXSUSPENDTOKENBUSY uint8 = 1 << 5 // Token processing suspended after SETUP
	CtlSE0                uint8 = 1 << 6
	CtlJSTATE             uint8 = 1 << 7
)

// ENDPT bits.
const (
	EndptEPHSHK   uint8 = 1 << 0 // Handshake enable (all but isochronous)
	EndptEPSTALL  uint8 = 1 << 1 // Endpoint stalled
	EndptEPTXEN   uint8 = 1 << 2 // Transmit (IN) enable
	EndptEPRXEN   uint8 = 1 << 3 // Receive (OUT/SETUP) enable
	EndptEPCTLDIS uint8 = 1 << 4 // SETUP transfers disabled
)

// Miscellaneous control bits.
const (
	ControlDPPULLUPNONOTG uint8 = 1 << 4 // CONTROL: D+ pull-up in device mode
	USBTRC0USBRESET       uint8 = 1 << 7 // USBTRC0: module reset, self-clearing
	USBCTRLSUSP           uint8 = 1 << 7 // USBCTRL: transceiver suspended
	USBCTRLPDE            uint8 = 1 << 6 // USBCTRL: weak pull-downs enabled
	AddrLSEN              uint8 = 1 << 7 // ADDR: low-speed enable (host mode)
)

// Field is a bit field of an unsigned register or descriptor word.
// Mask is given in place, already shifted.
type Field[T constraints.Unsigned] struct {
	Shift uint8
	Mask  T
}

// Get extracts the field value from v.
func (f Field[T]) Get(v T) T {
	return (v & f.Mask) >> f.Shift
}

// Set returns v with the field replaced by x. Bits of x that do not fit
// the field are discarded.
func (f Field[T]) Set(v, x T) T {
	return (v &^ f.Mask) | ((x << f.Shift) & f.Mask)
}

// Has reports whether any bit of the field is set in v.
func (f Field[T]) Has(v T) bool {
	return v&f.Mask != 0
}

// STAT fields.
var (
	StatODD  = Field[uint8]{Shift: 2, Mask: 0x04} // Bank of the last transaction
	StatTX   = Field[uint8]{Shift: 3, Mask: 0x08} // 1 = transmit (IN)
	StatENDP = Field[uint8]{Shift: 4, Mask: 0xF0} // Endpoint of the last transaction
)

// ADDR field.
var AddrADDR = Field[uint8]{Shift: 0, Mask: 0x7F}

// Stat packs a token-done status byte as the controller reports it.
func Stat(ep uint8, dir Direction, bank Bank) uint8 {
	var s uint8
	s = StatENDP.Set(s, ep)
	s = StatTX.Set(s, uint8(dir))
	s = StatODD.Set(s, uint8(bank))
	return s
}

// Port connects the driver to one USB0 instance: its register block, its
// clock gate, its interrupt line and the DMA engine's view of memory.
//
// On target hardware the register accessors are volatile loads and stores
// at the peripheral base and the Map methods return physical addresses.
// The simulated peripheral in package sim resolves mapped addresses back
// to the Go memory they were mapped from.
type Port interface {
	// Read loads an 8-bit register.
	Read(r Register) uint8

	// Write stores an 8-bit register.
	Write(r Register, v uint8)

	// EnableClock gates the peripheral clock on (SIM_SCGC4.USBOTG).
	EnableClock()

	// EnableIRQ registers handler on the USB0 interrupt line and unmasks it
	// in the interrupt controller at the given priority.
	EnableIRQ(handler func(), priority uint8)

	// DisableIRQ masks the USB0 interrupt line.
	DisableIRQ()

	// MapTable returns the bus address of the buffer descriptor table.
	MapTable(t *Table) uint32

	// MapBuffer returns the bus address of the first byte of b.
	MapBuffer(b []byte) uint32

	// Lock enters the critical section shared by the interrupt handler and
	// thread code. On hardware it masks interrupts, since a handler cannot
	// wait for the thread it preempted.
	Lock()

	// Unlock leaves the critical section.
	Unlock()
}

func (d *Driver) read(r Register) uint8 {
	return d.port.Read(r)
}

func (d *Driver) write(r Register, v uint8) {
	d.port.Write(r, v)
}

func (d *Driver) setBits(r Register, mask uint8) {
	d.port.Write(r, d.port.Read(r)|mask)
}

func (d *Driver) clearBits(r Register, mask uint8) {
	d.port.Write(r, d.port.Read(r)&^mask)
}

func (d *Driver) hasBits(r Register, mask uint8) bool {
	return d.port.Read(r)&mask != 0
}
