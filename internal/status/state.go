package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is a push channel's connection lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. CLOSED is transient:
// a dropped socket passes through it on the way back to DISCONNECTED, and
// a failed dial goes CONNECTING -> CLOSED without ever being OPEN.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Open, Closed},
	Open:         {Closed},
	Closed:       {Disconnected},
}

// Machine tracks and enforces one channel's connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	channel string
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine for the named channel starting in DISCONNECTED.
func NewMachine(channel string, b *bus.Bus) *Machine {
	return &Machine{
		channel: channel,
		current: Disconnected,
		bus:     b,
	}
}

// Channel returns the channel name the machine was created for.
func (m *Machine) Channel() string {
	return m.channel
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
		return fmt.Errorf("%s: invalid transition from %s to %s", m.channel, m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindConnStateChanged, StatusChange{
		Channel: m.channel,
		From:    from,
		To:      to,
	})
	return nil
}

// StatusChange is the payload for connection state events.
type StatusChange struct {
	Channel string
	From    State
	To      State
}
