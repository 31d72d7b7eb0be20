// Package position implements the instructor's control of a session's live
// step and section.
package position

import (
	"context"
	"log"

	"cohortlive/internal/telemetry"
	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

var tracer = telemetry.Tracer("position")

// Controller applies position changes. Every change is one conditional
// update in the store; the controller never computes a new step from a value
// it read earlier.
type Controller struct {
	sessions interfaces.SessionResolver
	store    interfaces.SessionStore
	notifier interfaces.Notifier
}

// NewController creates a controller.
func NewController(sessions interfaces.SessionResolver, store interfaces.SessionStore, notifier interfaces.Notifier) *Controller {
	return &Controller{
		sessions: sessions,
		store:    store,
		notifier: notifier,
	}
}

// Advance applies req to the session named by joinCode on behalf of
// requesterID and returns only the resulting position.
func (c *Controller) Advance(ctx context.Context, joinCode, requesterID string, req types.UpdateRequest) (_ *types.Position, err error) {
	ctx, span := telemetry.Start(ctx, tracer, "position.Advance", joinCode)
	defer func() { telemetry.End(span, err) }()

	session, err := c.sessions.Resolve(ctx, joinCode)
	if err != nil {
		return nil, err
	}
	if err := checkWritable(session, requesterID); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, types.ValidationError(err)
	}

	change := types.PositionChange{
		SessionID:    session.ID,
		InstructorID: requesterID,
		Step:         req.Step,
		StepDelta:    req.StepDelta(),
		Section:      req.Section,
		RequestID:    req.RequestID,
	}

	pos, applied, err := c.store.ApplyPositionChange(ctx, change)
	if err != nil {
		log.Printf("position: apply change to %s: %v", session.ID, err)
		return nil, types.WrapError(types.KindInternal, "internal error", err)
	}

	if !applied {
		// The guard rejected the update. Re-read to tell the caller why:
		// the session ended, or the request id was already applied.
		current, err := c.sessions.Resolve(ctx, joinCode)
		if err != nil {
			return nil, err
		}
		if current.ID != session.ID {
			return nil, ErrSessionEnded
		}
		if err := checkWritable(current, requesterID); err != nil {
			return nil, err
		}
		if req.RequestID == "" {
			log.Printf("position: conditional update on %s matched no row", session.ID)
			return nil, types.NewError(types.KindInternal, "internal error")
		}
		replayed := current.Position()
		return &replayed, nil
	}

	log.Printf("position: session=%s step=%d section=%s", session.ID, pos.CurrentStep, pos.CurrentSection)
	c.notifier.Publish(ctx, types.NewStateChangedEvent(session.ID, pos))

	return &pos, nil
}

// checkWritable checks ownership first so a non-owner learns nothing about
// the session's state.
func checkWritable(session *types.Session, requesterID string) error {
	if session.InstructorID != requesterID {
		return ErrNotInstructor
	}
	if !session.IsActive {
		return ErrSessionEnded
	}
	return nil
}
