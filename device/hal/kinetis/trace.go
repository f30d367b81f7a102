package kinetis

import (
	"io"
	"sync"
	"sync/atomic"
)

// Trace is a single-character event stream for watching the driver from a
// serial console. Put never blocks: characters that do not fit in the
// buffer are dropped and counted. A background goroutine drains the
// buffer into the writer.
//
// Trace characters:
//
//	U S ! \n  started          c  bus reset         #  driver reset
//	|         token done       s  SETUP             a  address latched
//	>         IN armed         +  IN chained        )  IN complete
//	<         OUT received     (  OUT complete      $  unknown PID
//	=         bad endpoint     d  stall flag        e  error flag
//	f         sleep flag       g  set address       h  init endpoint
//	i         disable eps      l  read setup        m  prepare receive
//	o         start out        p  start in          z  pool exhausted
//	q r       stall in/out     x t clear in/out     &  hex byte follows
//
// All methods are safe on a nil *Trace.
type Trace struct {
	ch      chan byte
	done    chan struct{}
	dropped atomic.Uint64
	once    sync.Once
	err     error
}

// NewTrace starts a trace writing to w through a buffer of depth bytes.
func NewTrace(w io.Writer, depth int) *Trace {
	if depth <= 0 {
		depth = 1
	}
	t := &Trace{
		ch:   make(chan byte, depth),
		done: make(chan struct{}),
	}
	go t.drain(w)
	return t
}

func (t *Trace) drain(w io.Writer) {
	defer close(t.done)
	var b [1]byte
	for c := range t.ch {
		if t.err != nil {
			continue
		}
		b[0] = c
		if _, err := w.Write(b[:]); err != nil {
			t.err = err
		}
	}
}

// Put enqueues one character.
func (t *Trace) Put(c byte) {
	if t == nil {
		return
	}
	select {
	case t.ch <- c:
	default:
		t.dropped.Add(1)
	}
}

const hexDigits = "0123456789abcdef"

// Hex enqueues '&' followed by the two hex digits of v.
func (t *Trace) Hex(v uint8) {
	if t == nil {
		return
	}
	t.Put('&')
	t.Put(hexDigits[v>>4])
	t.Put(hexDigits[v&0xF])
}

// Hex16 enqueues v as two hex bytes, high byte first.
func (t *Trace) Hex16(v uint16) {
	t.Hex(uint8(v >> 8))
	t.Hex(uint8(v))
}

// Dropped returns the number of characters discarded because the buffer
// was full.
func (t *Trace) Dropped() uint64 {
	if t == nil {
		return 0
	}
	return t.dropped.Load()
}

// Close flushes buffered characters and stops the drain goroutine. It
// returns the first write error, if any. Put must not be called after
// Close.
func (t *Trace) Close() error {
	if t == nil {
		return nil
	}
	t.once.Do(func() { close(t.ch) })
	<-t.done
	return t.err
}
