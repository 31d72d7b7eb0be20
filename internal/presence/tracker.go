// Package presence tracks which participants are currently attached to a
// session.
package presence

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"cohortlive/internal/telemetry"
	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

var tracer = telemetry.Tracer("presence")

// Tracker maintains session rosters. Join and leave are single conditional
// statements in the store, so repeated or concurrent calls for the same
// participant never duplicate a row or double-count.
type Tracker struct {
	sessions  interfaces.SessionResolver
	store     interfaces.SessionStore
	directory interfaces.Directory
	notifier  interfaces.Notifier
	now       func() time.Time
}

// NewTracker creates a tracker.
func NewTracker(
	sessions interfaces.SessionResolver,
	store interfaces.SessionStore,
	directory interfaces.Directory,
	notifier interfaces.Notifier,
) *Tracker {
	return &Tracker{
		sessions:  sessions,
		store:     store,
		directory: directory,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Join attaches participantID to the session named by joinCode. Joining while
// already active reports AlreadyJoined and leaves JoinedAt untouched.
func (t *Tracker) Join(ctx context.Context, joinCode, participantID string) (_ *types.JoinResult, err error) {
	ctx, span := telemetry.Start(ctx, tracer, "presence.Join", joinCode)
	defer func() { telemetry.End(span, err) }()

	if !types.IsValidUserID(participantID) {
		return nil, ErrInvalidParticipant
	}

	session, err := t.sessions.Resolve(ctx, joinCode)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, ErrSessionEnded
	}

	gained, err := t.store.UpsertMembership(ctx, &types.Membership{
		ID:            uuid.New().String(),
		SessionID:     session.ID,
		ParticipantID: participantID,
		IsActive:      true,
		JoinedAt:      t.now(),
	})
	switch {
	case errors.Is(err, interfaces.ErrSessionNotWritable):
		return nil, ErrSessionEnded
	case errors.Is(err, interfaces.ErrSessionNotFound):
		return nil, ErrSessionNotFound
	case err != nil:
		return nil, internalError("join", err)
	}

	membership, err := t.store.GetMembership(ctx, session.ID, participantID)
	if err != nil {
		return nil, internalError("read membership", err)
	}

	if gained {
		log.Printf("presence: joined session=%s participant=%s", session.ID, participantID)
		t.notifier.Publish(ctx, types.NewPresenceChangedEvent(session.ID, 1))
	}

	return &types.JoinResult{
		MembershipID:  membership.ID,
		AlreadyJoined: !gained,
		JoinedAt:      membership.JoinedAt,
	}, nil
}

// Leave detaches participantID. Leaving without an active membership, or
// leaving an ended session, succeeds without effect.
func (t *Tracker) Leave(ctx context.Context, joinCode, participantID string) (err error) {
	ctx, span := telemetry.Start(ctx, tracer, "presence.Leave", joinCode)
	defer func() { telemetry.End(span, err) }()

	session, err := t.sessions.Resolve(ctx, joinCode)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return nil
	}

	left, err := t.store.DeactivateMembership(ctx, session.ID, participantID, t.now())
	if err != nil {
		return internalError("leave", err)
	}
	if left {
		log.Printf("presence: left session=%s participant=%s", session.ID, participantID)
		t.notifier.Publish(ctx, types.NewPresenceChangedEvent(session.ID, -1))
	}
	return nil
}

// ListActive returns the present participants, first joined first.
func (t *Tracker) ListActive(ctx context.Context, joinCode string) (_ []types.RosterEntry, err error) {
	ctx, span := telemetry.Start(ctx, tracer, "presence.ListActive", joinCode)
	defer func() { telemetry.End(span, err) }()

	session, err := t.sessions.Resolve(ctx, joinCode)
	if err != nil {
		return nil, err
	}
	return t.roster(ctx, session.ID)
}

// Roster returns the roster of a session already resolved by the caller.
func (t *Tracker) Roster(ctx context.Context, sessionID string) ([]types.RosterEntry, error) {
	return t.roster(ctx, sessionID)
}

func (t *Tracker) roster(ctx context.Context, sessionID string) ([]types.RosterEntry, error) {
	memberships, err := t.store.ListActiveMemberships(ctx, sessionID)
	if err != nil {
		return nil, internalError("list memberships", err)
	}

	ids := make([]string, len(memberships))
	for i, m := range memberships {
		ids[i] = m.ParticipantID
	}
	names, err := t.directory.DisplayNames(ctx, ids)
	if err != nil {
		// Display names fall back to participant ids.
		log.Printf("presence: display names for session=%s: %v", sessionID, err)
		names = map[string]string{}
	}

	entries := make([]types.RosterEntry, 0, len(memberships))
	for _, m := range memberships {
		name, ok := names[m.ParticipantID]
		if !ok || name == "" {
			name = m.ParticipantID
		}
		entries = append(entries, types.RosterEntry{
			MembershipID:  m.ID,
			ParticipantID: m.ParticipantID,
			DisplayName:   name,
			JoinedAt:      m.JoinedAt,
		})
	}
	return entries, nil
}

func internalError(op string, err error) error {
	log.Printf("presence: %s: %v", op, err)
	return types.WrapError(types.KindInternal, "internal error", err)
}
