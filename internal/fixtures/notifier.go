package fixtures

import (
	"context"
	"sync"

	"cohortlive/pkg/types"
)

// Notifier records published events.
type Notifier struct {
	mu     sync.Mutex
	events []types.Event
}

func (n *Notifier) Publish(ctx context.Context, event types.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

// Events returns a copy of everything published so far.
func (n *Notifier) Events() []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}

// OfType returns the published events with the given type.
func (n *Notifier) OfType(eventType string) []types.Event {
	var out []types.Event
	for _, e := range n.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops recorded events.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = nil
}
