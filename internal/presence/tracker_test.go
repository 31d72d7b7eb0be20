package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cohortlive/internal/fixtures"
	"cohortlive/internal/joincode"
	"cohortlive/internal/position"
	"cohortlive/internal/session"
	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

type harness struct {
	tracker  *Tracker
	registry *session.Registry
	store    *fixtures.Store
	notifier *fixtures.Notifier
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := fixtures.NewStore()
	store.AddUnit("unit-3", "Unit 3")
	store.AddUser("p1", "Grace Hopper", types.RoleParticipant)
	notifier := &fixtures.Notifier{}
	registry := session.NewRegistry(store, store, store,
		joincode.NewGeneratorFrom(joincode.NewSequence("K4QD7M")), notifier)
	if _, err := registry.Create(context.Background(), "instructor-1", "unit-3"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	h := &harness{
		tracker:  NewTracker(registry, store, store, notifier),
		registry: registry,
		store:    store,
		notifier: notifier,
		clock:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	// Deterministic, strictly increasing timestamps.
	var mu sync.Mutex
	h.tracker.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		h.clock = h.clock.Add(time.Second)
		return h.clock
	}
	return h
}

func TestTracker_InterfaceCompliance(t *testing.T) {
	var _ interfaces.PresenceTracker = (*Tracker)(nil)
}

func TestTracker_JoinTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.tracker.Join(ctx, "K4QD7M", "p1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if first.AlreadyJoined || first.MembershipID == "" {
		t.Errorf("unexpected first join %+v", first)
	}

	second, err := h.tracker.Join(ctx, "k4qd7m", "p1")
	if err != nil {
		t.Fatalf("second Join: %v", err)
	}
	if !second.AlreadyJoined {
		t.Error("second join should report already joined")
	}
	if second.MembershipID != first.MembershipID || !second.JoinedAt.Equal(first.JoinedAt) {
		t.Errorf("second join changed the membership: %+v vs %+v", second, first)
	}

	roster, _ := h.tracker.ListActive(ctx, "K4QD7M")
	if len(roster) != 1 {
		t.Errorf("expected exactly one active membership, got %d", len(roster))
	}

	events := h.notifier.OfType(types.EventParticipantPresenceChanged)
	if len(events) != 1 || events[0].Presence.Delta != 1 {
		t.Errorf("expected one +1 presence event, got %+v", events)
	}
}

func TestTracker_LeaveThenJoinReusesMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	joined, _ := h.tracker.Join(ctx, "K4QD7M", "p1")
	if err := h.tracker.Leave(ctx, "K4QD7M", "p1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	view, _ := h.registry.Lookup(ctx, "K4QD7M")
	m, _ := h.store.GetMembership(ctx, view.ID, "p1")
	if m.IsActive || m.LeftAt == nil {
		t.Fatalf("expected inactive membership with left_at, got %+v", m)
	}

	rejoined, err := h.tracker.Join(ctx, "K4QD7M", "p1")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if rejoined.MembershipID != joined.MembershipID {
		t.Errorf("rejoin created a new membership: %s vs %s", rejoined.MembershipID, joined.MembershipID)
	}
	if rejoined.AlreadyJoined {
		t.Error("rejoin after leave gains a member")
	}
	m, _ = h.store.GetMembership(ctx, view.ID, "p1")
	if !m.IsActive || m.LeftAt != nil {
		t.Errorf("rejoin should clear left_at, got %+v", m)
	}

	var deltas []int
	for _, e := range h.notifier.OfType(types.EventParticipantPresenceChanged) {
		deltas = append(deltas, e.Presence.Delta)
	}
	if fmt.Sprint(deltas) != "[1 -1 1]" {
		t.Errorf("presence deltas = %v", deltas)
	}
}

func TestTracker_LeaveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.tracker.Leave(ctx, "K4QD7M", "never-joined"); err != nil {
		t.Fatalf("Leave without membership should succeed: %v", err)
	}
	h.tracker.Join(ctx, "K4QD7M", "p1")
	h.tracker.Leave(ctx, "K4QD7M", "p1")
	if err := h.tracker.Leave(ctx, "K4QD7M", "p1"); err != nil {
		t.Fatalf("second Leave: %v", err)
	}

	if n := len(h.notifier.OfType(types.EventParticipantPresenceChanged)); n != 2 {
		t.Errorf("expected +1 and -1 only, got %d events", n)
	}
}

func TestTracker_LeaveUnknownSession(t *testing.T) {
	h := newHarness(t)
	if err := h.tracker.Leave(context.Background(), "ZZZZZZ", "p1"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestTracker_JoinEndedSessionFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registry.End(ctx, "K4QD7M", "instructor-1")

	_, err := h.tracker.Join(ctx, "K4QD7M", "p2")
	if !errors.Is(err, types.ErrInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	if err := h.tracker.Leave(ctx, "K4QD7M", "p2"); err != nil {
		t.Errorf("leaving an ended session is a no-op, got %v", err)
	}
}

func TestTracker_JoinValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.tracker.Join(ctx, "ZZZZZZ", "p1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := h.tracker.Join(ctx, "K4QD7M", "has space"); !errors.Is(err, types.ErrValidationFailure) {
		t.Errorf("expected ValidationFailure, got %v", err)
	}
}

func TestTracker_RosterOrderAndDisplayNames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, p := range []string{"p3", "p1", "p2"} {
		if _, err := h.tracker.Join(ctx, "K4QD7M", p); err != nil {
			t.Fatalf("Join %s: %v", p, err)
		}
	}
	h.tracker.Leave(ctx, "K4QD7M", "p3")
	h.tracker.Join(ctx, "K4QD7M", "p3")

	roster, err := h.tracker.ListActive(ctx, "K4QD7M")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	var order []string
	for _, e := range roster {
		order = append(order, e.ParticipantID)
	}
	if fmt.Sprint(order) != "[p1 p2 p3]" {
		t.Errorf("roster order = %v", order)
	}
	if roster[0].DisplayName != "Grace Hopper" || roster[1].DisplayName != "p2" {
		t.Errorf("unexpected display names %+v", roster)
	}
}

func TestTracker_ConcurrentDoubleJoin(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	results := make(chan *types.JoinResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.tracker.Join(context.Background(), "K4QD7M", "p1")
			if err != nil {
				t.Errorf("Join: %v", err)
				return
			}
			results <- r
		}()
	}
	wg.Wait()
	close(results)

	already := 0
	ids := map[string]bool{}
	for r := range results {
		if r.AlreadyJoined {
			already++
		}
		ids[r.MembershipID] = true
	}
	if already != 1 || len(ids) != 1 {
		t.Errorf("expected one gain and one already-joined on one membership, got already=%d ids=%v", already, ids)
	}
}

// Instructor creates a session for unit 3 and gets K4QD7M; P1 joins; the
// instructor advances twice; after the end P2 cannot join and the roster is
// empty.
func TestTracker_EndToEndClassroomScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	controller := position.NewController(h.registry, h.store, h.notifier)

	view, err := h.registry.Lookup(ctx, "K4QD7M")
	if err != nil || view.CurrentStep != 1 {
		t.Fatalf("Lookup: %+v, %v", view, err)
	}

	if _, err := h.tracker.Join(ctx, "K4QD7M", "p1"); err != nil {
		t.Fatalf("P1 join: %v", err)
	}
	view, _ = h.registry.Lookup(ctx, "K4QD7M")
	if view.ParticipantCount != 1 {
		t.Fatalf("participant_count = %d", view.ParticipantCount)
	}

	steps := []int{view.CurrentStep}
	for i := 0; i < 2; i++ {
		pos, err := controller.Advance(ctx, "K4QD7M", "instructor-1",
			types.UpdateRequest{Action: strPtr(types.ActionNextStep)})
		if err != nil {
			t.Fatalf("next_step: %v", err)
		}
		steps = append(steps, pos.CurrentStep)
	}
	if fmt.Sprint(steps) != "[1 2 3]" {
		t.Fatalf("step sequence = %v", steps)
	}

	if _, err := h.registry.End(ctx, "K4QD7M", "instructor-1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := h.tracker.Join(ctx, "K4QD7M", "p2"); !errors.Is(err, types.ErrInvalidState) {
		t.Fatalf("P2 join after end: expected InvalidState, got %v", err)
	}
	roster, err := h.tracker.ListActive(ctx, "K4QD7M")
	if err != nil || len(roster) != 0 {
		t.Fatalf("roster after end = %v, %v", roster, err)
	}
}

func strPtr(v string) *string { return &v }
