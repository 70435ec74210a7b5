package notify

import "github.com/safeseed/custody"

// Noop is a notifier that drops every event. Use it when no notification
// transport is wired.
type Noop struct{}

var _ custody.Notifier = Noop{}

// Publish implements the custody.Notifier interface and does nothing.
func (Noop) Publish(custody.Address, custody.EventKind, []byte) {}
