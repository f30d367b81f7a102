package kinetis

import "testing"

// fakePort is a register file with the write-1-to-clear and self-clearing
// reset behaviour the driver relies on. It performs no DMA.
type fakePort struct {
	regs       [0x110]uint8
	stat       []uint8
	tableBase  uint32
	nextAddr   uint32
	stuckReset bool

	clock    bool
	irq      func()
	irqOn    bool
	priority uint8

	// held reports whether the driver is inside its critical section;
	// locks counts how often it entered.
	held  bool
	locks int
}

func newFakePort() *fakePort {
	return &fakePort{tableBase: 0x20001200, nextAddr: 0x20008000}
}

func (p *fakePort) Read(r Register) uint8 {
	if r == RegSTAT && len(p.stat) > 0 {
		return p.stat[0]
	}
	return p.regs[r]
}

func (p *fakePort) Write(r Register, v uint8) {
	switch r {
	case RegISTAT:
		p.regs[r] &^= v
		if v&IntTOKDNE != 0 && len(p.stat) > 0 {
			p.stat = p.stat[1:]
		}
		if len(p.stat) > 0 {
			p.regs[r] |= IntTOKDNE
		}
	case RegERRSTAT, RegOTGISTAT:
		p.regs[r] &^= v
	case RegUSBTRC0:
		if !p.stuckReset {
			v &^= USBTRC0USBRESET
		}
		p.regs[r] = v
	default:
		p.regs[r] = v
	}
}

func (p *fakePort) Lock() {
	if p.held {
		panic("fakePort: critical section entered twice")
	}
	p.held = true
	p.locks++
}

func (p *fakePort) Unlock() {
	if !p.held {
		panic("fakePort: critical section left while not held")
	}
	p.held = false
}

func (p *fakePort) EnableClock() { p.clock = true }

func (p *fakePort) EnableIRQ(h func(), prio uint8) {
	p.irq, p.irqOn, p.priority = h, true, prio
}

func (p *fakePort) DisableIRQ() { p.irqOn = false }

func (p *fakePort) MapTable(*Table) uint32 { return p.tableBase }

func (p *fakePort) MapBuffer(b []byte) uint32 {
	a := p.nextAddr
	p.nextAddr += uint32(len(b))
	return a
}

// token queues a completed transaction the way the controller reports it.
func (p *fakePort) token(ep uint8, dir Direction, b Bank) {
	p.stat = append(p.stat, Stat(ep, dir, b))
	p.regs[RegISTAT] |= IntTOKDNE
}

func newTestDriver(t *testing.T, endpoints int) (*Driver, *fakePort) {
	t.Helper()
	port := newFakePort()
	cfg := DefaultConfig()
	cfg.Endpoints = endpoints
	d, err := New(port, ListenerFuncs{}, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d, port
}

func startTestDriver(t *testing.T, endpoints int, l Listener) (*Driver, *fakePort) {
	t.Helper()
	port := newFakePort()
	cfg := DefaultConfig()
	cfg.Endpoints = endpoints
	d, err := New(port, l, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	return d, port
}

// sliceQueue is a TxQueue and RxQueue over a plain slice. A zero limit
// leaves room for any amount of data.
type sliceQueue struct {
	data      []byte
	limit     int
	released  int
	committed int
}

func (q *sliceQueue) Len() int { return len(q.data) }

func (q *sliceQueue) Space() int {
	if q.limit == 0 {
		return 1 << 16
	}
	return q.limit - len(q.data)
}

func (q *sliceQueue) Pop() byte {
	b := q.data[0]
	q.data = q.data[1:]
	return b
}

func (q *sliceQueue) Release(n int) { q.released += n }

func (q *sliceQueue) Push(b byte) { q.data = append(q.data, b) }

func (q *sliceQueue) Commit(n int) { q.committed += n }
