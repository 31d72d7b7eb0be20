package interfaces

import (
	"context"
	"time"

	"cohortlive/pkg/types"
)

// SessionStore is everything the live-session core needs from the relational
// store. Every mutating method is a single conditional statement or a single
// transaction; callers never read-then-write.
type SessionStore interface {
	// CreateSession inserts a new active session. Returns ErrJoinCodeTaken
	// when another active session already holds the join code.
	CreateSession(ctx context.Context, session *types.Session) error

	// ActiveJoinCodeExists reports whether an active session holds joinCode.
	ActiveJoinCodeExists(ctx context.Context, joinCode string) (bool, error)

	// GetSessionByJoinCode resolves a canonical join code, preferring the
	// active session and otherwise the most recently started one.
	GetSessionByJoinCode(ctx context.Context, joinCode string) (*types.Session, error)

	// ListActiveSessionsByInstructor returns the instructor's active sessions,
	// newest first.
	ListActiveSessionsByInstructor(ctx context.Context, instructorID string) ([]*types.Session, error)

	// EndSession flips an active session to ended and deactivates every active
	// membership in one transaction. ended is false when the session was
	// already inactive, in which case nothing is written.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) (ended bool, deactivated int, err error)

	// ApplyPositionChange applies change as one conditional update guarded by
	// ownership, liveness and the optional request id. applied is false when
	// the guard rejected the update or the request id was already applied.
	ApplyPositionChange(ctx context.Context, change types.PositionChange) (pos types.Position, applied bool, err error)

	// UpsertMembership activates the (session, participant) membership,
	// creating it if needed, as one statement. gained is false when the
	// membership was already active; ErrSessionNotWritable when the session
	// is not active.
	UpsertMembership(ctx context.Context, membership *types.Membership) (gained bool, err error)

	// GetMembership returns the membership row for a (session, participant) pair.
	GetMembership(ctx context.Context, sessionID, participantID string) (*types.Membership, error)

	// DeactivateMembership marks the active membership inactive. left is false
	// when there was no active membership.
	DeactivateMembership(ctx context.Context, sessionID, participantID string, leftAt time.Time) (left bool, err error)

	// CountActiveMemberships returns the roster size of a session.
	CountActiveMemberships(ctx context.Context, sessionID string) (int, error)

	// ListActiveMemberships returns the roster ordered by joined_at ascending.
	ListActiveMemberships(ctx context.Context, sessionID string) ([]*types.Membership, error)

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// CurriculumStore resolves curriculum units owned by the curriculum service.
type CurriculumStore interface {
	GetCurriculumUnit(ctx context.Context, unitID string) (*types.CurriculumUnit, error)
}

// Directory resolves display data for users registered elsewhere.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}
