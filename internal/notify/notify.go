package notify

import (
	"context"
	"log"

	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

// Multi publishes every event to each notifier in order.
type Multi []interfaces.Notifier

func (m Multi) Publish(ctx context.Context, event types.Event) {
	for _, n := range m {
		if n != nil {
			n.Publish(ctx, event)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, types.Event) {}

// Logging logs each event before handing it to next.
type Logging struct {
	next interfaces.Notifier
}

// NewLogging wraps next. A nil next only logs.
func NewLogging(next interfaces.Notifier) *Logging {
	if next == nil {
		next = Nop{}
	}
	return &Logging{next: next}
}

func (l *Logging) Publish(ctx context.Context, event types.Event) {
	switch event.Type {
	case types.EventSessionStateChanged:
		log.Printf("notify: %s session=%s step=%d section=%s", event.Type, event.SessionID, event.State.Step, event.State.Section)
	case types.EventParticipantPresenceChanged:
		log.Printf("notify: %s session=%s delta=%d", event.Type, event.SessionID, event.Presence.Delta)
	default:
		log.Printf("notify: %s session=%s", event.Type, event.SessionID)
	}
	l.next.Publish(ctx, event)
}
