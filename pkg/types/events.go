package types

import "time"

// Event type names as they appear on the wire.
const (
	EventSessionStateChanged        = "session_state_changed"
	EventParticipantPresenceChanged = "participant_presence_changed"
	EventSessionEnded               = "session_ended"
	EventSnapshot                   = "snapshot"
)

// Event is the envelope handed to a Notifier. Exactly one payload field is
// set, matching Type.
type Event struct {
	Type       string                      `json:"type"`
	SessionID  string                      `json:"session_id"`
	OccurredAt time.Time                   `json:"occurred_at"`
	State      *SessionStateChanged        `json:"state,omitempty"`
	Presence   *ParticipantPresenceChanged `json:"presence,omitempty"`
	Snapshot   *Snapshot                   `json:"snapshot,omitempty"`
}

// SessionStateChanged is emitted after any successful position mutation.
type SessionStateChanged struct {
	SessionID string `json:"session_id"`
	Step      int    `json:"step"`
	Section   string `json:"section"`
}

// ParticipantPresenceChanged is emitted when the roster gains or loses members.
type ParticipantPresenceChanged struct {
	SessionID string `json:"session_id"`
	Delta     int    `json:"delta"`
}

// Snapshot is sent to an observer right after it attaches so that missed
// events can be recovered without a separate lookup.
type Snapshot struct {
	Position Position      `json:"position"`
	IsActive bool          `json:"is_active"`
	Roster   []RosterEntry `json:"roster"`
}

// NewStateChangedEvent builds a SessionStateChanged envelope.
func NewStateChangedEvent(sessionID string, pos Position) Event {
	return Event{
		Type:       EventSessionStateChanged,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
		State: &SessionStateChanged{
			SessionID: sessionID,
			Step:      pos.CurrentStep,
			Section:   pos.CurrentSection,
		},
	}
}

// NewPresenceChangedEvent builds a ParticipantPresenceChanged envelope.
func NewPresenceChangedEvent(sessionID string, delta int) Event {
	return Event{
		Type:       EventParticipantPresenceChanged,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
		Presence: &ParticipantPresenceChanged{
			SessionID: sessionID,
			Delta:     delta,
		},
	}
}

// NewSessionEndedEvent builds a SessionEnded envelope.
func NewSessionEndedEvent(sessionID string) Event {
	return Event{
		Type:       EventSessionEnded,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
	}
}

// NewSnapshotEvent builds the per-observer snapshot frame.
func NewSnapshotEvent(sessionID string, snap Snapshot) Event {
	return Event{
		Type:       EventSnapshot,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
		Snapshot:   &snap,
	}
}
