package types

import (
	"time"
)

// Section values a session can be positioned on, in curriculum order.
const (
	SectionBriefing  = "briefing"
	SectionResources = "resources"
	SectionLab       = "lab"
	SectionDebrief   = "debrief"
)

// Directional step actions accepted by UpdateRequest.Action.
const (
	ActionNextStep = "next_step"
	ActionPrevStep = "prev_step"
)

// Roles carried by an authenticated identity.
const (
	RoleInstructor  = "instructor"
	RoleAdmin       = "admin"
	RoleParticipant = "participant"
)

// Sections lists the enumerated sections in order; the first entry is where
// every new session starts.
var Sections = []string{SectionBriefing, SectionResources, SectionLab, SectionDebrief}

// FirstStep is the floor for Session.CurrentStep.
const FirstStep = 1

// Session is one instructor-led walk through a curriculum unit.
// FUNCTIONAL DISCOVERY: InstructorID and CurriculumUnitID never change after
// creation; CurrentStep/CurrentSection change only while IsActive.
type Session struct {
	ID               string     `json:"id" db:"id"`
	JoinCode         string     `json:"join_code" db:"join_code"`
	InstructorID     string     `json:"instructor_id" db:"instructor_id"`
	CurriculumUnitID string     `json:"curriculum_unit_id" db:"curriculum_unit_id"`
	CurrentStep      int        `json:"current_step" db:"current_step"`
	CurrentSection   string     `json:"current_section" db:"current_section"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Position returns the live position of the session.
func (s *Session) Position() Position {
	return Position{CurrentStep: s.CurrentStep, CurrentSection: s.CurrentSection}
}

// Membership records one participant's attachment to one session.
// There is exactly one row per (SessionID, ParticipantID).
type Membership struct {
	ID            string     `json:"id" db:"id"`
	SessionID     string     `json:"session_id" db:"session_id"`
	ParticipantID string     `json:"participant_id" db:"participant_id"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	JoinedAt      time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt        *time.Time `json:"left_at,omitempty" db:"left_at"`
}

// CurriculumUnit is the minimal view of a unit owned by the curriculum store.
type CurriculumUnit struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// User is the minimal directory entry used for display purposes.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Position is the instructor-controlled live position inside a session.
type Position struct {
	CurrentStep    int    `json:"current_step"`
	CurrentSection string `json:"current_section"`
}

// SessionView is what a lookup returns: the session plus computed fields.
type SessionView struct {
	Session
	CurriculumUnit   CurriculumUnit `json:"curriculum_unit"`
	Instructor       User           `json:"instructor"`
	ParticipantCount int            `json:"participant_count"`
}

// UpdateRequest carries at most one of each kind of position change.
// RequestID, when set, makes a retried request a no-op.
type UpdateRequest struct {
	Step      *int    `json:"step,omitempty"`
	Section   *string `json:"section,omitempty"`
	Action    *string `json:"action,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

// PositionChange is the store-level form of an UpdateRequest after validation.
// StepDelta is applied relative to the stored value and floored at FirstStep.
type PositionChange struct {
	SessionID    string
	InstructorID string
	Step         *int
	StepDelta    int
	Section      *string
	RequestID    string
}

// JoinResult reports the outcome of a join.
type JoinResult struct {
	MembershipID  string    `json:"membership_id"`
	AlreadyJoined bool      `json:"already_joined"`
	JoinedAt      time.Time `json:"joined_at"`
}

// EndResult reports the outcome of ending a session.
type EndResult struct {
	AlreadyEnded       bool      `json:"already_ended"`
	EndedAt            time.Time `json:"ended_at"`
	DeactivatedMembers int       `json:"deactivated_members"`
}

// RosterEntry is one currently-present participant.
type RosterEntry struct {
	MembershipID  string    `json:"membership_id"`
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Identity is the authenticated caller as established upstream.
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// CanCreateSessions reports whether the identity holds instructor capability.
func (i Identity) CanCreateSessions() bool {
	return i.Role == RoleInstructor || i.Role == RoleAdmin
}
