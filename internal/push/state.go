package push

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/caiofmo/zapdesk/internal/bus"
)

// State is a push-channel connection state.
type State string

const (
	Connecting State = "CONNECTING"
	Open       State = "OPEN"
	Closed     State = "CLOSED"
	Stopped    State = "STOPPED"
)

// validTransitions defines allowed state transitions. Stopped is
// terminal and reached only on explicit teardown.
var validTransitions = map[State][]State{
	Connecting: {Open, Closed, Stopped},
	Open:       {Closed, Stopped},
	Closed:     {Connecting, Stopped},
	Stopped:    {},
}

// Machine tracks and enforces push-channel state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Closed state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Closed,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
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
		m.bus.Publish(bus.Event{
			Kind:      bus.KindChannelStateChanged,
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StateChange is the payload for channel state change events.
type StateChange struct {
	From State
	To   State
}
