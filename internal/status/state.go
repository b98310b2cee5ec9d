// Package status tracks the lifecycle of a live conversation subscription.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/bus"
)

// State represents a subscription lifecycle state.
type State string

const (
	Unsubscribed State = "UNSUBSCRIBED"
	Subscribing  State = "SUBSCRIBING"
	Live         State = "LIVE"
)

// validTransitions defines allowed state transitions. There is no automatic
// reconnect state: teardown always lands back in Unsubscribed.
var validTransitions = map[State][]State{
	Unsubscribed: {Subscribing},
	Subscribing:  {Live, Unsubscribed},
	Live:         {Unsubscribed},
}

// Machine tracks and enforces one conversation subscription's state.
type Machine struct {
	mu             sync.RWMutex
	current        State
	conversationID string
	bus            *bus.Bus
}

// NewMachine creates a state machine for one conversation, starting in
// Unsubscribed.
func NewMachine(conversationID string, b *bus.Bus) *Machine {
	return &Machine{
		current:        Unsubscribed,
		conversationID: conversationID,
		bus:            b,
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
		return fmt.Errorf("invalid subscription transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind: bus.KindSubscriptionChanged,
			Payload: Change{
				ConversationID: m.conversationID,
				From:           from,
				To:             to,
			},
		})
	}
	return nil
}

// Change is the payload for subscription state change events.
type Change struct {
	ConversationID string
	From           State
	To             State
}
