package interfaces

import "errors"

// Store-level errors shared by every SessionStore implementation.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrUnitNotFound       = errors.New("curriculum unit not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrJoinCodeTaken      = errors.New("join code already in use by an active session")
	ErrSessionNotWritable = errors.New("session not active or not owned by requester")
)
