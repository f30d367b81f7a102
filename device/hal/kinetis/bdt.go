package kinetis

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/ardnew/usbfs/pkg"
)

// Direction selects the receive or transmit half of an endpoint.
type Direction uint8

// Endpoint directions as encoded in BDT indices and STAT.TX.
const (
	RX Direction = 0 // OUT and SETUP, host to device
	TX Direction = 1 // IN, device to host
)

// String returns "rx" or "tx".
func (d Direction) String() string {
	if d == TX {
		return "tx"
	}
	return "rx"
}

// Bank selects one of the two ping-pong buffer descriptors of a direction.
type Bank uint8

// Ping-pong banks.
const (
	Even Bank = 0
	Odd  Bank = 1
)

// Flip returns the other bank.
func (b Bank) Flip() Bank { return b ^ 1 }

// Toggle is the DATA0/DATA1 packet identifier expected or sent next.
type Toggle uint8

// Data toggles.
const (
	DATA0 Toggle = 0
	DATA1 Toggle = 1
)

// Flip returns the other toggle.
func (t Toggle) Flip() Toggle { return t ^ 1 }

// String returns "DATA0" or "DATA1".
func (t Toggle) String() string {
	if t == DATA1 {
		return "DATA1"
	}
	return "DATA0"
}

// PID is the token PID the controller writes back into a completed
// descriptor.
type PID uint8

// Token PIDs.
const (
	PIDOut   PID = 0x1
	PIDIn    PID = 0x9
	PIDSetup PID = 0xD
)

// String returns the token name.
func (p PID) String() string {
	switch p {
	case PIDOut:
		return "OUT"
	case PIDIn:
		return "IN"
	case PIDSetup:
		return "SETUP"
	default:
		return fmt.Sprintf("PID(0x%X)", uint8(p))
	}
}

// Owner reports who may touch a descriptor and its buffer.
type Owner uint8

// Descriptor owners.
const (
	OwnedByProcessor  Owner = 0
	OwnedByController Owner = 1
)

// Buffer descriptor control word bits. While the controller owns the
// descriptor, bits 5:2 hold the KEEP, NINC, DTS and BDT_STALL flags. Once
// the controller hands it back they hold the token PID.
const (
	DescOWN   uint32 = 1 << 7
	DescDATA1 uint32 = 1 << 6
	DescKEEP  uint32 = 1 << 5
	DescNINC  uint32 = 1 << 4
	DescDTS   uint32 = 1 << 3
	DescSTALL uint32 = 1 << 2
)

// Buffer descriptor control word fields.
var (
	DescBC   = Field[uint32]{Shift: 16, Mask: 0x3FF << 16}
	DescPID  = Field[uint32]{Shift: 2, Mask: 0xF << 2}
	DescData = Field[uint32]{Shift: 6, Mask: DescDATA1}
)

// MaxByteCount is the largest count a descriptor can describe.
const MaxByteCount = 1<<10 - 1

// TableAlign is the alignment the controller requires of the table base.
const TableAlign = 512

// Describe builds a controller-owned control word for a transfer of bc
// bytes with the given data toggle and data toggle synchronization enabled.
func Describe(bc int, toggle Toggle) uint32 {
	if bc < 0 || bc > MaxByteCount {
		panic(fmt.Sprintf("kinetis: descriptor byte count %d out of range", bc))
	}
	w := DescOWN | DescDTS
	w = DescData.Set(w, uint32(toggle))
	w = DescBC.Set(w, uint32(bc))
	return w
}

// Descriptor is one 8-byte hardware buffer descriptor. Both words are
// shared with the controller's DMA engine, so they are accessed atomically.
type Descriptor struct {
	desc atomic.Uint32
	addr atomic.Uint32
}

// Load returns the control word.
func (d *Descriptor) Load() uint32 { return d.desc.Load() }

// Store replaces the control word.
func (d *Descriptor) Store(w uint32) { d.desc.Store(w) }

// Addr returns the bus address of the descriptor's buffer.
func (d *Descriptor) Addr() uint32 { return d.addr.Load() }

// SetAddr sets the bus address of the descriptor's buffer.
func (d *Descriptor) SetAddr(a uint32) { d.addr.Store(a) }

// Owner reports whether the controller or the processor owns d.
func (d *Descriptor) Owner() Owner {
	if d.Load()&DescOWN != 0 {
		return OwnedByController
	}
	return OwnedByProcessor
}

// ByteCount returns the BC field.
func (d *Descriptor) ByteCount() int {
	return int(DescBC.Get(d.Load()))
}

// TokenPID returns the PID written back by the controller.
func (d *Descriptor) TokenPID() PID {
	return PID(DescPID.Get(d.Load()))
}

// Toggle returns the data toggle recorded in the control word.
func (d *Descriptor) Toggle() Toggle {
	return Toggle(DescData.Get(d.Load()))
}

// Arm hands d to the controller for a transfer of bc bytes.
func (d *Descriptor) Arm(bc int, toggle Toggle) {
	d.Store(Describe(bc, toggle))
}

// Clear returns d to the processor with an empty control word.
func (d *Descriptor) Clear() {
	d.Store(0)
}

// Index returns the table position of the descriptor for endpoint ep,
// direction dir and bank b.
func Index(ep uint8, dir Direction, b Bank) int {
	return int(ep)<<2 | int(dir)<<1 | int(b)
}

// Table is the buffer descriptor table: four descriptors per endpoint,
// ordered RX even, RX odd, TX even, TX odd.
type Table struct {
	entries []Descriptor
	bufs    [][]byte
}

// NewTable returns a table for the given number of endpoints. The
// descriptors are carved out of a larger byte allocation so that the first
// one sits on a [TableAlign] boundary in memory.
func NewTable(endpoints int) *Table {
	n := endpoints * 4
	size := int(unsafe.Sizeof(Descriptor{}))
	raw := make([]byte, n*size+TableAlign)
	off := alignOffset(uintptr(unsafe.Pointer(&raw[0])))
	pkg.LogDebug(pkg.ComponentBDT, "table",
		"endpoints", endpoints, "descriptors", n, "pad", off)
	var entries []Descriptor
	if n > 0 {
		entries = unsafe.Slice((*Descriptor)(unsafe.Pointer(&raw[off])), n)
	}
	return &Table{
		entries: entries,
		bufs:    make([][]byte, n),
	}
}

// alignOffset returns the number of bytes to skip from addr to reach the
// next [TableAlign] boundary.
func alignOffset(addr uintptr) int {
	if r := int(addr % TableAlign); r != 0 {
		return TableAlign - r
	}
	return 0
}

// Len returns the number of descriptors.
func (t *Table) Len() int { return len(t.entries) }

// Endpoints returns the number of endpoints the table covers.
func (t *Table) Endpoints() int { return len(t.entries) / 4 }

// Entry returns the descriptor at index i.
func (t *Table) Entry(i int) *Descriptor { return &t.entries[i] }

// At returns the descriptor for endpoint ep, direction dir and bank b.
func (t *Table) At(ep uint8, dir Direction, b Bank) *Descriptor {
	return &t.entries[Index(ep, dir, b)]
}

// Buffer returns the processor's view of the buffer bound at index i,
// or nil if none is bound.
func (t *Table) Buffer(i int) []byte { return t.bufs[i] }

// Bind attaches buf, whose bus address is addr, to the descriptor at index i.
func (t *Table) Bind(i int, buf []byte, addr uint32) {
	t.bufs[i] = buf
	t.entries[i].SetAddr(addr)
}

// Bound reports whether a buffer is attached at index i.
func (t *Table) Bound(i int) bool { return t.bufs[i] != nil }

// Reset clears every control word and unbinds every buffer.
func (t *Table) Reset() {
	pkg.LogDebug(pkg.ComponentBDT, "reset", "descriptors", len(t.entries))
	for i := range t.entries {
		t.entries[i].Clear()
		t.entries[i].SetAddr(0)
		t.bufs[i] = nil
	}
}

// clearTX returns both transmit descriptors of ep to the processor.
func (t *Table) clearTX(ep uint8) {
	t.At(ep, TX, Even).Clear()
	t.At(ep, TX, Odd).Clear()
}

// DescString formats a control word for logging.
func DescString(w uint32) string {
	owner := "cpu"
	if w&DescOWN != 0 {
		owner = "sie"
	}
	return fmt.Sprintf("%s %s bc=%d pid=%s",
		owner, Toggle(DescData.Get(w)), DescBC.Get(w), PID(DescPID.Get(w)))
}
