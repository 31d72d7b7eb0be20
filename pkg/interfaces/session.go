package interfaces

import (
	"context"

	"cohortlive/pkg/types"
)

// SessionRegistry creates, resolves and terminates sessions.
type SessionRegistry interface {
	Create(ctx context.Context, instructorID, curriculumUnitID string) (*types.Session, error)
	Lookup(ctx context.Context, joinCode string) (*types.SessionView, error)
	End(ctx context.Context, joinCode, requesterID string) (*types.EndResult, error)
	ListActiveForInstructor(ctx context.Context, instructorID string) ([]*types.Session, error)
}

// SessionResolver turns a join code into the session it currently names.
type SessionResolver interface {
	Resolve(ctx context.Context, joinCode string) (*types.Session, error)
}

// PresenceTracker manages the roster of a session.
type PresenceTracker interface {
	Join(ctx context.Context, joinCode, participantID string) (*types.JoinResult, error)
	Leave(ctx context.Context, joinCode, participantID string) error
	ListActive(ctx context.Context, joinCode string) ([]types.RosterEntry, error)
}

// PositionController is the instructor-only control of the live position.
type PositionController interface {
	Advance(ctx context.Context, joinCode, requesterID string, req types.UpdateRequest) (*types.Position, error)
}

// Notifier receives events from the core and fans them out to observers.
// Delivery is best effort; Publish never reports failure to the core.
type Notifier interface {
	Publish(ctx context.Context, event types.Event)
}
