package notify

import (
	"context"
	"testing"

	"cohortlive/internal/fixtures"
	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

func TestNotifiers_ImplementInterface(t *testing.T) {
	var _ interfaces.Notifier = Multi(nil)
	var _ interfaces.Notifier = Nop{}
	var _ interfaces.Notifier = (*Logging)(nil)
	var _ interfaces.Notifier = (*RedisPublisher)(nil)
}

func TestMulti_PublishesToEachInOrder(t *testing.T) {
	a, b := &fixtures.Notifier{}, &fixtures.Notifier{}
	m := Multi{a, nil, b}

	m.Publish(context.Background(), types.NewPresenceChangedEvent("s1", 1))
	m.Publish(context.Background(), types.NewSessionEndedEvent("s1"))

	for _, n := range []*fixtures.Notifier{a, b} {
		events := n.Events()
		if len(events) != 2 || events[0].Type != types.EventParticipantPresenceChanged || events[1].Type != types.EventSessionEnded {
			t.Errorf("unexpected events %+v", events)
		}
	}
}

func TestNop_Publish(t *testing.T) {
	Nop{}.Publish(context.Background(), types.NewSessionEndedEvent("s1"))
}

func TestLogging_ForwardsEveryEventType(t *testing.T) {
	next := &fixtures.Notifier{}
	l := NewLogging(next)
	ctx := context.Background()

	l.Publish(ctx, types.NewStateChangedEvent("s1", types.Position{CurrentStep: 2, CurrentSection: types.SectionLab}))
	l.Publish(ctx, types.NewPresenceChangedEvent("s1", -2))
	l.Publish(ctx, types.NewSessionEndedEvent("s1"))

	if n := len(next.Events()); n != 3 {
		t.Errorf("forwarded %d events, want 3", n)
	}
}

func TestLogging_NilNextOnlyLogs(t *testing.T) {
	NewLogging(nil).Publish(context.Background(), types.NewSessionEndedEvent("s1"))
}

func TestRedisPublisher_NilIsNoop(t *testing.T) {
	var p *RedisPublisher
	p.Publish(context.Background(), types.NewSessionEndedEvent("s1"))
	if err := p.Close(); err != nil {
		t.Errorf("Close on nil publisher: %v", err)
	}
}

func TestNewRedisPublisher_RequiresAddr(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), RedisOptions{}); err != ErrRedisAddrRequired {
		t.Errorf("expected ErrRedisAddrRequired, got %v", err)
	}
}

func TestChannel(t *testing.T) {
	if got := Channel("abc"); got != "cohortlive:session:abc" {
		t.Errorf("Channel = %q", got)
	}
}
