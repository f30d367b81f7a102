package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/boljen/go-bitmap"

	"github.com/ardnew/usbfs/device/hal/kinetis"
	"github.com/ardnew/usbfs/pkg"
)

// Handshake errors seen by the simulated host.
var (
	// ErrNAK means the device was not ready: no descriptor owned by the
	// controller, token processing suspended or token FIFO full.
	ErrNAK = errors.New("NAK")

	// ErrStall means the endpoint answered with STALL.
	ErrStall = errors.New("STALL")

	// ErrNoDevice means no device answered: pull-up off, USB disabled,
	// address mismatch or endpoint disabled.
	ErrNoDevice = errors.New("no device response")

	// ErrBabble means the host sent more data than the receive buffer holds.
	ErrBabble = errors.New("babble")

	// ErrBadAddress means a descriptor points outside every mapped region.
	ErrBadAddress = errors.New("descriptor address not mapped")
)

// statDepth is the depth of the controller's token-done FIFO.
const statDepth = 4

// regSpace covers every USB0 register offset.
const regSpace = int(kinetis.RegUSBTRC0) + 4

// Options tunes the simulated controller.
type Options struct {
	// ResetLatency is the number of USBTRC0 reads before a module reset
	// self-clears. Negative values make the reset never complete.
	ResetLatency int

	// TableBase is the bus address assigned to the first mapped table.
	TableBase uint32
}

// DefaultOptions returns options for a well-behaved controller.
func DefaultOptions() Options {
	return Options{ResetLatency: 2, TableBase: 0x1FFFF000}
}

type region struct {
	base uint32
	buf  []byte
}

// Peripheral is a simulated USB0 controller. It implements [kinetis.Port]
// for the driver and, through its host-side methods, plays the USB host on
// the other end of the cable. Transactions run the DMA side of the
// descriptor protocol and then deliver the interrupt synchronously on the
// calling goroutine, as if the handler had preempted the host.
type Peripheral struct {
	opts Options

	mu   sync.Mutex
	regs [regSpace]uint8
	stat []uint8

	// Ping-pong pointer of each endpoint direction, indexed by the BDT
	// index with the bank bit dropped.
	odd bitmap.Bitmap

	resetCount int
	frame      uint16

	tables   map[uint32]*kinetis.Table
	nextBase uint32
	regions  []region
	nextAddr uint32

	clock    bool
	irq      func()
	irqOn    bool
	priority uint8

	// irqMu serializes interrupt delivery: there is one interrupt line.
	irqMu sync.Mutex

	// cs is the driver's critical section, see Lock.
	cs sync.Mutex

	stats Stats
}

// Stats counts simulated bus traffic.
type Stats struct {
	Setups       int
	Ins          int
	Outs         int
	NAKs         int
	Stalls       int
	Interrupts   int
	ToggleErrors int
}

// New returns a powered-off simulated controller.
func New(opts Options) *Peripheral {
	p := &Peripheral{
		opts:     opts,
		odd:      bitmap.New(kinetis.MaxEndpoints * 2),
		tables:   make(map[uint32]*kinetis.Table),
		nextBase: opts.TableBase,
		nextAddr: 0x20000000,
	}
	p.powerOn()
	return p
}

// powerOn loads the reset values of the register file.
func (p *Peripheral) powerOn() {
	for i := range p.regs {
		p.regs[i] = 0
	}
	p.regs[kinetis.RegPERID] = 0x04
	p.regs[kinetis.RegSOFTHLD] = 0x12
	p.regs[kinetis.RegUSBCTRL] = kinetis.USBCTRLSUSP | kinetis.USBCTRLPDE
	p.stat = p.stat[:0]
	p.clearOdd()
}

func (p *Peripheral) clearOdd() {
	for i := 0; i < p.odd.Len(); i++ {
		p.odd.Set(i, false)
	}
}

// Lock implements [kinetis.Port]. The simulated interrupt runs on the
// host's goroutine, so the section is a mutex rather than a mask.
func (p *Peripheral) Lock() { p.cs.Lock() }

// Unlock implements [kinetis.Port].
func (p *Peripheral) Unlock() { p.cs.Unlock() }

// Read implements [kinetis.Port].
func (p *Peripheral) Read(r kinetis.Register) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read(r)
}

func (p *Peripheral) read(r kinetis.Register) uint8 {
	switch r {
	case kinetis.RegSTAT:
		if len(p.stat) > 0 {
			return p.stat[0]
		}
		return 0
	case kinetis.RegUSBTRC0:
		v := p.regs[r]
		if v&kinetis.USBTRC0USBRESET != 0 && p.opts.ResetLatency >= 0 {
			p.resetCount--
			if p.resetCount <= 0 {
				p.powerOn()
				p.regs[r] = v &^ kinetis.USBTRC0USBRESET
			}
		}
		return v
	}
	return p.regs[r]
}

// Write implements [kinetis.Port].
func (p *Peripheral) Write(r kinetis.Register, v uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r {
	case kinetis.RegISTAT:
		p.regs[r] &^= v
		if v&kinetis.IntTOKDNE != 0 && len(p.stat) > 0 {
			p.stat = p.stat[1:]
		}
		if len(p.stat) > 0 {
			p.regs[r] |= kinetis.IntTOKDNE
		}
	case kinetis.RegERRSTAT, kinetis.RegOTGISTAT:
		p.regs[r] &^= v
	case kinetis.RegUSBTRC0:
		if v&kinetis.USBTRC0USBRESET != 0 {
			p.resetCount = p.opts.ResetLatency
		}
		p.regs[r] = v
	case kinetis.RegCTL:
		if v&kinetis.CtlODDRST != 0 {
			p.clearOdd()
		}
		p.regs[r] = v
	case kinetis.RegSTAT, kinetis.RegPERID, kinetis.RegFRMNUML, kinetis.RegFRMNUMH:
		// read-only
	default:
		p.regs[r] = v
	}
}

// EnableClock implements [kinetis.Port].
func (p *Peripheral) EnableClock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = true
}

// EnableIRQ implements [kinetis.Port].
func (p *Peripheral) EnableIRQ(handler func(), priority uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.irq = handler
	p.irqOn = true
	p.priority = priority
}

// DisableIRQ implements [kinetis.Port].
func (p *Peripheral) DisableIRQ() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.irqOn = false
}

// MapTable implements [kinetis.Port]. Each table gets its own 512-byte
// aligned bus address, starting at Options.TableBase.
func (p *Peripheral) MapTable(t *kinetis.Table) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	for base, m := range p.tables {
		if m == t {
			return base
		}
	}
	base := p.nextBase
	p.tables[base] = t
	size := uint32(t.Len() * 8)
	p.nextBase += (size + kinetis.TableAlign - 1) &^ (kinetis.TableAlign - 1)
	return base
}

// MapBuffer implements [kinetis.Port].
func (p *Peripheral) MapBuffer(b []byte) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	base := p.nextAddr
	p.regions = append(p.regions, region{base: base, buf: b})
	p.nextAddr += (uint32(len(b)) + 3) &^ 3
	return base
}

// ClockEnabled reports whether the driver gated the clock on.
func (p *Peripheral) ClockEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock
}

// IRQEnabled reports whether the interrupt line is unmasked, and at which
// priority.
func (p *Peripheral) IRQEnabled() (bool, uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.irqOn, p.priority
}

// Attached reports whether the D+ pull-up is on and USB is enabled.
func (p *Peripheral) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached()
}

func (p *Peripheral) attached() bool {
	return p.regs[kinetis.RegCONTROL]&kinetis.ControlDPPULLUPNONOTG != 0 &&
		p.regs[kinetis.RegCTL]&kinetis.CtlUSBENSOFEN != 0
}

// Register returns the raw value of r without read side effects.
func (p *Peripheral) Register(r kinetis.Register) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regs[r]
}

// Stats returns the traffic counters.
func (p *Peripheral) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// table returns the descriptor table BDTPAGE1..3 currently point at.
func (p *Peripheral) table() *kinetis.Table {
	base := uint32(p.regs[kinetis.RegBDTPAGE1]&0xFE)<<8 |
		uint32(p.regs[kinetis.RegBDTPAGE2])<<16 |
		uint32(p.regs[kinetis.RegBDTPAGE3])<<24
	return p.tables[base]
}

// memory returns n bytes of mapped memory at bus address addr.
func (p *Peripheral) memory(addr uint32, n int) ([]byte, error) {
	for _, r := range p.regions {
		if addr >= r.base && addr-r.base+uint32(n) <= uint32(len(r.buf)) {
			off := addr - r.base
			return r.buf[off : off+uint32(n)], nil
		}
	}
	return nil, fmt.Errorf("%w: 0x%08X+%d", ErrBadAddress, addr, n)
}

func oddIndex(ep uint8, dir kinetis.Direction) int {
	return int(ep)<<1 | int(dir)
}

func (p *Peripheral) bank(ep uint8, dir kinetis.Direction) kinetis.Bank {
	if p.odd.Get(oddIndex(ep, dir)) {
		return kinetis.Odd
	}
	return kinetis.Even
}

func (p *Peripheral) flip(ep uint8, dir kinetis.Direction) {
	i := oddIndex(ep, dir)
	p.odd.Set(i, !p.odd.Get(i))
}

// raise sets interrupt flags. The caller must deliver afterwards.
func (p *Peripheral) raise(flags uint8) {
	p.regs[kinetis.RegISTAT] |= flags
}

// deliver runs the interrupt handler while any enabled flag is pending.
// p.mu must not be held.
func (p *Peripheral) deliver() {
	p.irqMu.Lock()
	defer p.irqMu.Unlock()
	for range 8 {
		p.mu.Lock()
		pending := p.regs[kinetis.RegISTAT]&p.regs[kinetis.RegINTEN] != 0
		handler := p.irq
		on := p.irqOn
		if pending && on && handler != nil {
			p.stats.Interrupts++
		}
		p.mu.Unlock()
		if !pending || !on || handler == nil {
			return
		}
		handler()
	}
	pkg.LogWarn(pkg.ComponentSim, "interrupt still pending after repeated service",
		"istat", p.Register(kinetis.RegISTAT))
}
