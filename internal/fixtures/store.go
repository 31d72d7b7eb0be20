// Package fixtures holds in-memory collaborators for service and API tests.
package fixtures

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

// Store is an in-memory SessionStore, CurriculumStore and Directory with the
// same conditional-write semantics as the SQLite store. Every method holds
// one mutex, which stands in for the single-writer goroutine.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*sessionRow
	memberships map[string]*membershipRow // sessionID + "/" + participantID
	units       map[string]types.CurriculumUnit
	users       map[string]types.User
	seq         int

	// Err, when set, is returned by every method that touches storage.
	Err error
}

type sessionRow struct {
	session  types.Session
	requests map[string]struct{}
	seq      int
}

type membershipRow struct {
	membership types.Membership
	seq        int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sessions:    make(map[string]*sessionRow),
		memberships: make(map[string]*membershipRow),
		units:       make(map[string]types.CurriculumUnit),
		users:       make(map[string]types.User),
	}
}

// AddUnit registers a curriculum unit.
func (s *Store) AddUnit(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[id] = types.CurriculumUnit{ID: id, Title: title}
}

// AddUser registers a directory entry.
func (s *Store) AddUser(id, displayName, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = types.User{ID: id, DisplayName: displayName, Role: role}
}

func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.units[session.CurriculumUnitID]; !ok {
		return interfaces.ErrUnitNotFound
	}
	if s.activeByCode(session.JoinCode) != nil {
		return interfaces.ErrJoinCodeTaken
	}
	s.seq++
	s.sessions[session.ID] = &sessionRow{session: *session, seq: s.seq}
	return nil
}

func (s *Store) ActiveJoinCodeExists(ctx context.Context, joinCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	return s.activeByCode(joinCode) != nil, nil
}

func (s *Store) GetSessionByJoinCode(ctx context.Context, joinCode string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if row := s.activeByCode(joinCode); row != nil {
		out := row.session
		return &out, nil
	}
	var latest *sessionRow
	for _, row := range s.sessions {
		if !strings.EqualFold(row.session.JoinCode, joinCode) {
			continue
		}
		if latest == nil || row.seq > latest.seq {
			latest = row
		}
	}
	if latest == nil {
		return nil, interfaces.ErrSessionNotFound
	}
	out := latest.session
	return &out, nil
}

func (s *Store) ListActiveSessionsByInstructor(ctx context.Context, instructorID string) ([]*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	rows := make([]*sessionRow, 0)
	for _, row := range s.sessions {
		if row.session.IsActive && row.session.InstructorID == instructorID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	out := make([]*types.Session, len(rows))
	for i, row := range rows {
		session := row.session
		out[i] = &session
	}
	return out, nil
}

func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, 0, s.Err
	}
	row, ok := s.sessions[sessionID]
	if !ok || !row.session.IsActive {
		return false, 0, nil
	}
	row.session.IsActive = false
	at := endedAt
	row.session.EndedAt = &at

	removed := 0
	for _, m := range s.memberships {
		if m.membership.SessionID == sessionID && m.membership.IsActive {
			m.membership.IsActive = false
			left := endedAt
			m.membership.LeftAt = &left
			removed++
		}
	}
	return true, removed, nil
}

func (s *Store) ApplyPositionChange(ctx context.Context, change types.PositionChange) (types.Position, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return types.Position{}, false, s.Err
	}
	row, ok := s.sessions[change.SessionID]
	if !ok || !row.session.IsActive || row.session.InstructorID != change.InstructorID {
		return types.Position{}, false, nil
	}
	if _, seen := row.requests[change.RequestID]; change.RequestID != "" && seen {
		return types.Position{}, false, nil
	}

	step := row.session.CurrentStep + change.StepDelta
	if change.Step != nil {
		step = *change.Step
	}
	if step < types.FirstStep {
		step = types.FirstStep
	}
	row.session.CurrentStep = step
	if change.Section != nil {
		row.session.CurrentSection = *change.Section
	}
	if change.RequestID != "" {
		if row.requests == nil {
			row.requests = make(map[string]struct{})
		}
		row.requests[change.RequestID] = struct{}{}
	}
	return row.session.Position(), true, nil
}

func (s *Store) UpsertMembership(ctx context.Context, membership *types.Membership) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	session, ok := s.sessions[membership.SessionID]
	if !ok {
		return false, interfaces.ErrSessionNotFound
	}
	if !session.session.IsActive {
		return false, interfaces.ErrSessionNotWritable
	}

	key := membership.SessionID + "/" + membership.ParticipantID
	if existing, ok := s.memberships[key]; ok {
		if existing.membership.IsActive {
			return false, nil
		}
		existing.membership.IsActive = true
		existing.membership.LeftAt = nil
		existing.membership.JoinedAt = membership.JoinedAt
		s.seq++
		existing.seq = s.seq
		return true, nil
	}

	s.seq++
	row := &membershipRow{membership: *membership, seq: s.seq}
	row.membership.IsActive = true
	row.membership.LeftAt = nil
	s.memberships[key] = row
	return true, nil
}

func (s *Store) GetMembership(ctx context.Context, sessionID, participantID string) (*types.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	row, ok := s.memberships[sessionID+"/"+participantID]
	if !ok {
		return nil, interfaces.ErrMembershipNotFound
	}
	out := row.membership
	return &out, nil
}

func (s *Store) DeactivateMembership(ctx context.Context, sessionID, participantID string, leftAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	row, ok := s.memberships[sessionID+"/"+participantID]
	if !ok || !row.membership.IsActive {
		return false, nil
	}
	row.membership.IsActive = false
	at := leftAt
	row.membership.LeftAt = &at
	return true, nil
}

func (s *Store) CountActiveMemberships(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := 0
	for _, row := range s.memberships {
		if row.membership.SessionID == sessionID && row.membership.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListActiveMemberships(ctx context.Context, sessionID string) ([]*types.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	rows := make([]*membershipRow, 0)
	for _, row := range s.memberships {
		if row.membership.SessionID == sessionID && row.membership.IsActive {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].membership.JoinedAt.Equal(rows[j].membership.JoinedAt) {
			return rows[i].membership.JoinedAt.Before(rows[j].membership.JoinedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]*types.Membership, len(rows))
	for i, row := range rows {
		m := row.membership
		out[i] = &m
	}
	return out, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

func (s *Store) Close() error { return nil }

func (s *Store) GetCurriculumUnit(ctx context.Context, unitID string) (*types.CurriculumUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	unit, ok := s.units[unitID]
	if !ok {
		return nil, interfaces.ErrUnitNotFound
	}
	return &unit, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	user, ok := s.users[userID]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	return &user, nil
}

func (s *Store) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	names := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		if user, ok := s.users[id]; ok {
			names[id] = user.DisplayName
		}
	}
	return names, nil
}

// SetErr swaps the injected failure.
func (s *Store) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

func (s *Store) activeByCode(code string) *sessionRow {
	for _, row := range s.sessions {
		if row.session.IsActive && strings.EqualFold(row.session.JoinCode, code) {
			return row
		}
	}
	return nil
}
