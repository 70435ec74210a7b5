package custodytest

import (
	"sync"

	"github.com/safeseed/custody"
)

// Event is a single notification observed by the Notifier double.
type Event struct {
	Safe    custody.Address
	Kind    custody.EventKind
	Payload []byte
}

// Notifier is a mock implementing the custody.Notifier interface that
// records every published event.
type Notifier struct {
	mu     sync.Mutex
	events []Event
}

var _ custody.Notifier = (*Notifier)(nil)

func (n *Notifier) Publish(safe custody.Address, kind custody.EventKind, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, Event{Safe: safe, Kind: kind, Payload: payload})
}

// Events returns a copy of all recorded events.
func (n *Notifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

// Kinds returns the kinds of all recorded events in publish order.
func (n *Notifier) Kinds() []custody.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]custody.EventKind, len(n.events))
	for i, e := range n.events {
		kinds[i] = e.Kind
	}
	return kinds
}
