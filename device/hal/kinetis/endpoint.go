package kinetis

import (
	"github.com/ardnew/usbfs/device/hal"
)

// TxQueue is the interrupt-side view of an output queue feeding an IN
// endpoint. Every method is called with the section held.
type TxQueue interface {
	// Len returns the number of bytes waiting to be sent.
	Len() int

	// Pop removes and returns the next byte. The caller never pops more
	// than Len bytes.
	Pop() byte

	// Release reports that n bytes left the queue, waking writers.
	Release(n int)
}

// RxQueue is the interrupt-side view of an input queue fed by an OUT
// endpoint. Every method is called with the section held.
type RxQueue interface {
	// Space returns the number of bytes that can be pushed.
	Space() int

	// Push appends one received byte. The caller never pushes more than
	// Space bytes.
	Push(b byte)

	// Commit reports that n bytes arrived, waking readers.
	Commit(n int)
}

// Callback is an endpoint notification. It runs with the section held,
// either from the interrupt handler or from the thread that armed the
// transfer, and may use s to start further transfers.
type Callback func(s *Section, ep uint8)

// InState tracks the IN (transmit) transfer in progress on an endpoint.
type InState struct {
	TxSize  int     // Transfer size in bytes
	TxCount int     // Bytes acknowledged by the host so far
	TxBuf   []byte  // Unsent part of a linear transfer
	TxQueue TxQueue // Source of a queued transfer, nil for linear

	bank   Bank
	toggle Toggle
}

// Bank returns the descriptor bank the next IN packet will use.
func (s *InState) Bank() Bank { return s.bank }

// Toggle returns the data toggle of the next IN packet.
func (s *InState) Toggle() Toggle { return s.toggle }

// Queued reports whether the transfer draws from a queue.
func (s *InState) Queued() bool { return s.TxQueue != nil }

func (s *InState) reset() {
	*s = InState{}
}

// OutState tracks the OUT (receive) transfer in progress on an endpoint.
type OutState struct {
	RxSize    int     // Transfer size in bytes
	RxCount   int     // Bytes received so far
	RxPackets int     // Packets still expected before the transfer completes
	RxBuf     []byte  // Unfilled part of a linear transfer
	RxQueue   RxQueue // Sink of a queued transfer, nil for linear

	bank   Bank
	toggle Toggle
	armed  int
}

// Bank returns the descriptor bank the controller will fill next.
func (s *OutState) Bank() Bank { return s.bank }

// Armed returns how many receive descriptors the controller owns.
func (s *OutState) Armed() int { return s.armed }

// Toggle returns the data toggle expected from the host next.
func (s *OutState) Toggle() Toggle { return s.toggle }

// Queued reports whether the transfer feeds a queue.
func (s *OutState) Queued() bool { return s.RxQueue != nil }

func (s *OutState) reset() {
	*s = OutState{}
}

// EndpointConfig describes one endpoint. A nil InState or OutState leaves
// that direction disabled.
type EndpointConfig struct {
	Type hal.EndpointType

	Setup Callback // SETUP received, control endpoints only
	In    Callback // IN transfer complete
	Out   Callback // OUT transfer complete

	InMaxSize  int
	OutMaxSize int

	InState  *InState
	OutState *OutState
}

// endpt returns the ENDPT register value that enables cfg.
func (cfg *EndpointConfig) endpt() uint8 {
	var v uint8
	if cfg.InState != nil {
		v |= EndptEPTXEN
	}
	if cfg.OutState != nil {
		v |= EndptEPRXEN
	}
	if cfg.Type != hal.EndpointTypeIsochronous {
		v |= EndptEPHSHK
	}
	if cfg.Type != hal.EndpointTypeControl {
		v |= EndptEPCTLDIS
	}
	return v
}

func (cfg *EndpointConfig) validate() bool {
	if cfg.InState != nil && (cfg.InMaxSize <= 0 || cfg.InMaxSize > PacketSize) {
		return false
	}
	if cfg.OutState != nil && (cfg.OutMaxSize <= 0 || cfg.OutMaxSize > PacketSize) {
		return false
	}
	return true
}

// EndpointStatus is the stall status of one direction of an endpoint.
type EndpointStatus uint8

// Endpoint statuses.
const (
	EndpointDisabled EndpointStatus = iota
	EndpointActive
	EndpointStalled
)

// String returns the status name.
func (s EndpointStatus) String() string {
	switch s {
	case EndpointActive:
		return "active"
	case EndpointStalled:
		return "stalled"
	default:
		return "disabled"
	}
}

// Listener receives the control endpoint's notifications and bus events.
// Every method runs with the section held.
type Listener interface {
	Setup(s *Section, ep uint8)
	In(s *Section, ep uint8)
	Out(s *Section, ep uint8)
	Event(s *Section, ev hal.Event)
	SOF(s *Section)
}

// ListenerFuncs adapts optional functions to a [Listener].
type ListenerFuncs struct {
	OnSetup Callback
	OnIn    Callback
	OnOut   Callback
	OnEvent func(s *Section, ev hal.Event)
	OnSOF   func(s *Section)
}

func (l ListenerFuncs) Setup(s *Section, ep uint8) {
	if l.OnSetup != nil {
		l.OnSetup(s, ep)
	}
}

func (l ListenerFuncs) In(s *Section, ep uint8) {
	if l.OnIn != nil {
		l.OnIn(s, ep)
	}
}

func (l ListenerFuncs) Out(s *Section, ep uint8) {
	if l.OnOut != nil {
		l.OnOut(s, ep)
	}
}

func (l ListenerFuncs) Event(s *Section, ev hal.Event) {
	if l.OnEvent != nil {
		l.OnEvent(s, ev)
	}
}

func (l ListenerFuncs) SOF(s *Section) {
	if l.OnSOF != nil {
		l.OnSOF(s)
	}
}
