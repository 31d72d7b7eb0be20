package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"cohortlive/internal/joincode"
	"cohortlive/internal/telemetry"
	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

// MaxJoinCodeAttempts bounds regeneration when a fresh code collides with an
// active session.
const MaxJoinCodeAttempts = 8

// CodeGenerator produces candidate join codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// Registry creates, resolves and terminates sessions.
type Registry struct {
	store      interfaces.SessionStore
	curriculum interfaces.CurriculumStore
	directory  interfaces.Directory
	codes      CodeGenerator
	notifier   interfaces.Notifier
	now        func() time.Time
}

// NewRegistry creates a registry. A nil generator uses crypto/rand.
func NewRegistry(
	store interfaces.SessionStore,
	curriculum interfaces.CurriculumStore,
	directory interfaces.Directory,
	codes CodeGenerator,
	notifier interfaces.Notifier,
) *Registry {
	if codes == nil {
		codes = joincode.NewGenerator()
	}
	return &Registry{
		store:      store,
		curriculum: curriculum,
		directory:  directory,
		codes:      codes,
		notifier:   notifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var tracer = telemetry.Tracer("session")

// Create starts a new session at step 1 of the first section. The caller has
// already checked that instructorID holds instructor capability.
func (r *Registry) Create(ctx context.Context, instructorID, curriculumUnitID string) (_ *types.Session, err error) {
	ctx, span := tracer.Start(ctx, "session.Create")
	defer func() { telemetry.End(span, err) }()

	if !types.IsValidUserID(instructorID) {
		return nil, ErrInvalidInstructor
	}

	if _, err := r.curriculum.GetCurriculumUnit(ctx, curriculumUnitID); err != nil {
		if errors.Is(err, interfaces.ErrUnitNotFound) {
			return nil, ErrUnknownUnit
		}
		return nil, internalError("lookup curriculum unit", err)
	}

	for attempt := 1; attempt <= MaxJoinCodeAttempts; attempt++ {
		code, err := r.codes.Generate()
		if err != nil {
			return nil, internalError("generate join code", err)
		}

		taken, err := r.store.ActiveJoinCodeExists(ctx, code)
		if err != nil {
			return nil, internalError("check join code", err)
		}
		if taken {
			continue
		}

		session := &types.Session{
			ID:               uuid.New().String(),
			JoinCode:         code,
			InstructorID:     instructorID,
			CurriculumUnitID: curriculumUnitID,
			CurrentStep:      types.FirstStep,
			CurrentSection:   types.Sections[0],
			IsActive:         true,
			StartedAt:        r.now(),
		}

		// The partial unique index catches a code claimed between the check
		// and the insert.
		err = r.store.CreateSession(ctx, session)
		if errors.Is(err, interfaces.ErrJoinCodeTaken) {
			continue
		}
		if errors.Is(err, interfaces.ErrUnitNotFound) {
			return nil, ErrUnknownUnit
		}
		if err != nil {
			return nil, internalError("create session", err)
		}

		log.Printf("session: created id=%s code=%s instructor=%s unit=%s", session.ID, code, instructorID, curriculumUnitID)
		return session, nil
	}

	log.Printf("session: no free join code after %d attempts", MaxJoinCodeAttempts)
	return nil, ErrCodesExhausted
}

// Resolve normalizes joinCode and returns the session it names: the active
// holder, else the most recent historical one. Malformed codes are NotFound.
func (r *Registry) Resolve(ctx context.Context, joinCode string) (*types.Session, error) {
	code, err := joincode.Normalize(joinCode)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	session, err := r.store.GetSessionByJoinCode(ctx, code)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, internalError("resolve join code", err)
	}
	return session, nil
}

// Lookup returns the session named by joinCode with its computed fields.
func (r *Registry) Lookup(ctx context.Context, joinCode string) (_ *types.SessionView, err error) {
	ctx, span := telemetry.Start(ctx, tracer, "session.Lookup", joinCode)
	defer func() { telemetry.End(span, err) }()

	session, err := r.Resolve(ctx, joinCode)
	if err != nil {
		return nil, err
	}

	count, err := r.store.CountActiveMemberships(ctx, session.ID)
	if err != nil {
		return nil, internalError("count participants", err)
	}

	view := &types.SessionView{
		Session:          *session,
		CurriculumUnit:   types.CurriculumUnit{ID: session.CurriculumUnitID},
		Instructor:       types.User{ID: session.InstructorID, DisplayName: session.InstructorID, Role: types.RoleInstructor},
		ParticipantCount: count,
	}

	// Display data is best effort; the curriculum and directory services own it.
	if unit, err := r.curriculum.GetCurriculumUnit(ctx, session.CurriculumUnitID); err == nil {
		view.CurriculumUnit = *unit
	} else if !errors.Is(err, interfaces.ErrUnitNotFound) {
		log.Printf("session: lookup unit %s for %s: %v", session.CurriculumUnitID, session.ID, err)
	}
	if user, err := r.directory.GetUser(ctx, session.InstructorID); err == nil {
		view.Instructor = *user
	} else if !errors.Is(err, interfaces.ErrUserNotFound) {
		log.Printf("session: lookup instructor %s for %s: %v", session.InstructorID, session.ID, err)
	}

	return view, nil
}

// End terminates the session named by joinCode. Ending an ended session is a
// no-op that reports AlreadyEnded.
func (r *Registry) End(ctx context.Context, joinCode, requesterID string) (_ *types.EndResult, err error) {
	ctx, span := telemetry.Start(ctx, tracer, "session.End", joinCode)
	defer func() { telemetry.End(span, err) }()

	session, err := r.Resolve(ctx, joinCode)
	if err != nil {
		return nil, err
	}
	if session.InstructorID != requesterID {
		return nil, ErrNotInstructor
	}
	if !session.IsActive {
		return alreadyEnded(session), nil
	}

	endedAt := r.now()
	ended, deactivated, err := r.store.EndSession(ctx, session.ID, endedAt)
	if err != nil {
		return nil, internalError("end session", err)
	}
	if !ended {
		// Lost a race with a concurrent End; report the stored end time.
		current, err := r.Resolve(ctx, joinCode)
		if err != nil {
			return nil, err
		}
		return alreadyEnded(current), nil
	}

	log.Printf("session: ended id=%s code=%s deactivated=%d", session.ID, session.JoinCode, deactivated)

	if deactivated > 0 {
		r.notifier.Publish(ctx, types.NewPresenceChangedEvent(session.ID, -deactivated))
	}
	r.notifier.Publish(ctx, types.NewSessionEndedEvent(session.ID))

	return &types.EndResult{EndedAt: endedAt, DeactivatedMembers: deactivated}, nil
}

// ListActiveForInstructor returns the instructor's active sessions, newest
// first.
func (r *Registry) ListActiveForInstructor(ctx context.Context, instructorID string) ([]*types.Session, error) {
	sessions, err := r.store.ListActiveSessionsByInstructor(ctx, instructorID)
	if err != nil {
		return nil, internalError("list sessions", err)
	}
	return sessions, nil
}

func alreadyEnded(session *types.Session) *types.EndResult {
	result := &types.EndResult{AlreadyEnded: true}
	if session.EndedAt != nil {
		result.EndedAt = *session.EndedAt
	}
	return result
}

func internalError(op string, err error) error {
	log.Printf("session: %s: %v", op, err)
	return types.WrapError(types.KindInternal, "internal error", err)
}
