package kinetis

import (
	"fmt"

	"github.com/ardnew/usbfs/pkg"
)

// PacketSize is the size of one packet buffer slot and the largest
// endpoint max packet size the driver accepts.
const PacketSize = 64

// Pool hands out packet buffers from one contiguous region that the
// controller can reach by DMA. Slots are never returned individually;
// the whole pool is rewound when the bus is reset.
type Pool struct {
	region []byte
	base   uint32
	next   int
}

// NewPool returns a pool with room for slots packet buffers. The region is
// mapped through port once so every slot has a stable bus address.
func NewPool(port Port, slots int) *Pool {
	p := &Pool{
		region: make([]byte, slots*PacketSize),
	}
	if slots > 0 {
		p.base = port.MapBuffer(p.region)
	}
	return p
}

// Alloc returns the next free slot and its bus address. Running out of
// slots means the pool was sized wrong for the endpoint configuration,
// which the driver cannot recover from, so Alloc panics with
// [pkg.ErrPoolExhausted].
func (p *Pool) Alloc() ([]byte, uint32) {
	if p.next >= p.Cap() {
		pkg.LogError(pkg.ComponentPool, "exhausted", "slots", p.Cap())
		panic(fmt.Errorf("kinetis: %w (%d slots)", pkg.ErrPoolExhausted, p.Cap()))
	}
	i := p.next
	p.next++
	off := i * PacketSize
	return p.region[off : off+PacketSize : off+PacketSize], p.base + uint32(off)
}

// Rewind makes every slot available again.
func (p *Pool) Rewind() {
	pkg.LogDebug(pkg.ComponentPool, "rewind", "used", p.next)
	p.next = 0
}

// Cap returns the number of slots.
func (p *Pool) Cap() int { return len(p.region) / PacketSize }

// Used returns the number of slots handed out since the last rewind.
func (p *Pool) Used() int { return p.next }

// InUse reports whether slot i has been handed out. Slots go out in
// order, so that is every slot below the cursor.
func (p *Pool) InUse(i int) bool {
	return i >= 0 && i < p.next
}
