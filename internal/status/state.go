// Package status tracks the daemon's connection lifecycle as an explicit
// state machine. Transport connectivity drives it; every transition is
// published on the bus so the UI never polls.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/sigil/internal/bus"
	"github.com/matheus3301/sigil/internal/remote"
)

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	Offline      State = "OFFLINE"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Denied       State = "DENIED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Offline, Connecting, Error},
	Offline:      {Connecting, Error},
	Connecting:   {Syncing, Offline, Denied, Reconnecting, Error},
	Syncing:      {Ready, Reconnecting, Error},
	Ready:        {Syncing, Reconnecting, Offline, Error},
	Reconnecting: {Connecting, Offline, Error},
	Denied:       {Offline, Error},
	Error:        {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindConnStateChanged, StatusChange{From: from, To: to})
	}
	return nil
}

// Apply maps a transport connectivity state onto the machine, ignoring
// transitions the current state does not allow (the transport can repeat
// itself during reconnect storms).
func (m *Machine) Apply(state remote.ConnState) {
	switch state {
	case remote.StateConnecting:
		_ = m.Transition(Connecting)
	case remote.StateConnected:
		_ = m.Transition(Syncing)
	case remote.StateDisconnected:
		_ = m.Transition(Reconnecting)
	case remote.StateDenied:
		_ = m.Transition(Denied)
	case remote.StateError:
		_ = m.Transition(Error)
	}
}

// StatusChange is the payload for connection state change events.
type StatusChange struct {
	From State
	To   State
}
