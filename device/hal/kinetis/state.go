package kinetis

import (
	"fmt"

	"github.com/ardnew/usbfs/pkg"
)

// State is the driver's position in the device lifecycle.
type State uint8

// Driver states.
const (
	StateStopped  State = iota // Clock gated, interrupt masked
	StateReady                 // Started, waiting for the first bus reset
	StateDefault               // Bus reset seen, address 0
	StateSelected              // Address latched
	StateActive                // Configuration active
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateReady:
		return "ready"
	case StateDefault:
		return "default"
	case StateSelected:
		return "selected"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Trigger is an input to the state machine.
type Trigger uint8

// State machine triggers.
const (
	TriggerStart       Trigger = iota // Start
	TriggerBusReset                   // USB reset, from the bus or the upper layer
	TriggerAddress                    // Nonzero address latched
	TriggerUnaddress                  // Address 0 latched
	TriggerConfigure                  // Upper layer selected a configuration
	TriggerDeconfigure                // Upper layer selected configuration 0
	TriggerStop                       // Shutdown
)

// String returns the trigger name.
func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerBusReset:
		return "bus-reset"
	case TriggerAddress:
		return "address"
	case TriggerUnaddress:
		return "unaddress"
	case TriggerConfigure:
		return "configure"
	case TriggerDeconfigure:
		return "deconfigure"
	case TriggerStop:
		return "stop"
	default:
		return fmt.Sprintf("trigger(%d)", uint8(t))
	}
}

type edge struct {
	from State
	on   Trigger
}

var transitions = map[edge]State{
	{StateStopped, TriggerStart}: StateReady,

	{StateReady, TriggerBusReset}:    StateDefault,
	{StateDefault, TriggerBusReset}:  StateDefault,
	{StateSelected, TriggerBusReset}: StateDefault,
	{StateActive, TriggerBusReset}:   StateDefault,

	{StateDefault, TriggerAddress}:    StateSelected,
	{StateSelected, TriggerAddress}:   StateSelected,
	{StateDefault, TriggerUnaddress}:  StateDefault,
	{StateSelected, TriggerUnaddress}: StateDefault,

	{StateSelected, TriggerConfigure}: StateActive,
	{StateActive, TriggerConfigure}:   StateActive,
	{StateActive, TriggerDeconfigure}: StateSelected,

	{StateReady, TriggerStop}:    StateStopped,
	{StateDefault, TriggerStop}:  StateStopped,
	{StateSelected, TriggerStop}: StateStopped,
	{StateActive, TriggerStop}:   StateStopped,
}

// Machine is the driver state machine. It is not safe for concurrent use;
// the driver only fires it with the section held.
type Machine struct {
	state    State
	onChange func(from, to State)
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// OnChange registers fn to run after every state change.
func (m *Machine) OnChange(fn func(from, to State)) { m.onChange = fn }

// Can reports whether t is accepted in the current state.
func (m *Machine) Can(t Trigger) bool {
	_, ok := transitions[edge{m.state, t}]
	return ok
}

// Fire applies t. A trigger the current state does not accept leaves the
// state unchanged and returns [pkg.ErrInvalidState].
func (m *Machine) Fire(t Trigger) error {
	next, ok := transitions[edge{m.state, t}]
	if !ok {
		return fmt.Errorf("%w: %s in %s", pkg.ErrInvalidState, t, m.state)
	}
	prev := m.state
	m.state = next
	if prev != next {
		pkg.LogDebug(pkg.ComponentLLD, "state change",
			"from", prev.String(), "to", next.String(), "trigger", t.String())
		if m.onChange != nil {
			m.onChange(prev, next)
		}
	}
	return nil
}

// force puts the machine in s without consulting the transition table.
func (m *Machine) force(s State) {
	m.state = s
}
