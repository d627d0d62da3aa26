package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/casesync/internal/bus"
)

// State represents the lifecycle of the persistent channel.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Error        State = "error"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Error, Disconnected},
	Connected:    {Error, Disconnected},
	Error:        {Connecting, Disconnected},
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Machine tracks and enforces channel state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanTransition reports whether moving to the given state is allowed from the
// current one.
func (m *Machine) CanTransition(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(validTransitions[m.current], to)
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State, reason string) (StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return StatusChange{}, fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	change := StatusChange{From: m.current, To: to, Reason: reason, At: time.Now()}
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: change.At,
			Payload:   change,
		})
	}
	return change, nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From   State
	To     State
	Reason string
	At     time.Time
}
