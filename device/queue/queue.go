package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/usbfs/pkg"
)

// ring is the storage shared by Input and Output: a circular buffer whose
// cursors wrap back to the start when they reach the top.
type ring struct {
	lock sync.Locker
	buf  []byte
	rd   int
	wr   int

	// wake is closed, and replaced, whenever the counter changes in a
	// direction a blocked caller is waiting for.
	wake chan struct{}

	// reset is closed, and replaced, by Reset.
	reset chan struct{}
}

func newRing(size int, lock sync.Locker) ring {
	if size <= 0 {
		panic(fmt.Sprintf("queue: size %d", size))
	}
	if lock == nil {
		lock = new(sync.Mutex)
	}
	return ring{
		lock:  lock,
		buf:   make([]byte, size),
		wake:  make(chan struct{}),
		reset: make(chan struct{}),
	}
}

func (r *ring) put(b byte) {
	r.buf[r.wr] = b
	r.wr++
	if r.wr >= len(r.buf) {
		r.wr = 0
	}
}

func (r *ring) get() byte {
	b := r.buf[r.rd]
	r.rd++
	if r.rd >= len(r.buf) {
		r.rd = 0
	}
	return b
}

func (r *ring) signal() {
	close(r.wake)
	r.wake = make(chan struct{})
}

func (r *ring) flush() {
	r.rd, r.wr = 0, 0
	close(r.reset)
	r.reset = make(chan struct{})
	r.signal()
}

// wait releases the lock until the queue is signalled, reset or ctx is
// done, then reacquires it. The lock must be held.
func (r *ring) wait(ctx context.Context) error {
	wake, reset := r.wake, r.reset
	r.lock.Unlock()
	defer r.lock.Lock()
	select {
	case <-wake:
		return nil
	case <-reset:
		return pkg.ErrReset
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", pkg.ErrCancelled, context.Cause(ctx))
	}
}

// Output is a byte queue drained by an IN endpoint. Writers run in thread
// context and block while the queue is full. The driver pops bytes from
// interrupt context with the lock held.
type Output struct {
	ring
	free int

	// notify runs with the lock held after a write adds data.
	notify func(q *Output)
}

// NewOutput returns an output queue of size bytes guarded by lock, which
// is usually the driver's critical section. A nil lock gets a private
// mutex. notify, if not nil, runs with the lock held each time a write
// adds data, typically to start an IN transfer.
func NewOutput(size int, lock sync.Locker, notify func(q *Output)) *Output {
	return &Output{ring: newRing(size, lock), free: size, notify: notify}
}

// Write copies all of p into the queue, blocking while it is full. It
// returns the number of bytes queued, which is less than len(p) only with
// an error: a cancelled ctx or a Reset.
func (q *Output) Write(ctx context.Context, p []byte) (int, error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	n := 0
	for n < len(p) {
		for q.free == 0 {
			if err := q.wait(ctx); err != nil {
				return n, err
			}
		}
		k := min(q.free, len(p)-n)
		for _, b := range p[n : n+k] {
			q.put(b)
		}
		q.free -= k
		n += k
		if q.notify != nil {
			q.notify(q)
		}
	}
	return n, nil
}

// Len returns the number of queued bytes. The lock must be held.
func (q *Output) Len() int { return len(q.buf) - q.free }

// Space returns the free space in bytes. The lock must be held.
func (q *Output) Space() int { return q.free }

// Cap returns the queue size.
func (q *Output) Cap() int { return len(q.buf) }

// Pop removes and returns the oldest byte. The lock must be held and the
// caller must not pop more bytes than Len reported.
func (q *Output) Pop() byte { return q.get() }

// Release returns n popped bytes of space to writers. The lock must be held.
func (q *Output) Release(n int) {
	q.free += n
	q.signal()
}

// Reset discards the queued bytes and fails every blocked writer with
// [pkg.ErrReset]. The lock must be held.
func (q *Output) Reset() {
	q.free = len(q.buf)
	q.flush()
	pkg.LogDebug(pkg.ComponentQueue, "output reset", "size", len(q.buf))
}

// Input is a byte queue filled by an OUT endpoint. Readers run in thread
// context and block while the queue is empty. The driver pushes bytes from
// interrupt context with the lock held.
type Input struct {
	ring
	count int

	// notify runs with the lock held after a read frees space.
	notify func(q *Input)
}

// NewInput returns an input queue of size bytes guarded by lock. A nil lock
// gets a private mutex. notify, if not nil, runs with the lock held each
// time a read frees space, typically to restart an OUT transfer.
func NewInput(size int, lock sync.Locker, notify func(q *Input)) *Input {
	return &Input{ring: newRing(size, lock), notify: notify}
}

// Read copies up to len(p) bytes out of the queue, blocking until at least
// one byte is available.
func (q *Input) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	q.lock.Lock()
	defer q.lock.Unlock()

	for q.count == 0 {
		if err := q.wait(ctx); err != nil {
			return 0, err
		}
	}
	n := min(q.count, len(p))
	for i := range n {
		p[i] = q.get()
	}
	q.count -= n
	if q.notify != nil {
		q.notify(q)
	}
	return n, nil
}

// ReadFull reads exactly len(p) bytes, blocking as needed.
func (q *Input) ReadFull(ctx context.Context, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		k, err := q.Read(ctx, p[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Len returns the number of bytes available. The lock must be held.
func (q *Input) Len() int { return q.count }

// Space returns the free space in bytes. The lock must be held.
func (q *Input) Space() int { return len(q.buf) - q.count }

// Cap returns the queue size.
func (q *Input) Cap() int { return len(q.buf) }

// Push appends one byte. The lock must be held and the caller must not push
// more bytes than Space reported.
func (q *Input) Push(b byte) { q.put(b) }

// Commit makes n pushed bytes visible to readers. The lock must be held.
func (q *Input) Commit(n int) {
	q.count += n
	q.signal()
}

// Reset discards the queued bytes and fails every blocked reader with
// [pkg.ErrReset]. The lock must be held.
func (q *Input) Reset() {
	q.count = 0
	q.flush()
	pkg.LogDebug(pkg.ComponentQueue, "input reset", "size", len(q.buf))
}

// IsReset reports whether err came from a queue Reset.
func IsReset(err error) bool { return errors.Is(err, pkg.ErrReset) }
