package session

import "cohortlive/pkg/types"

// Errors returned by the registry. They match their kind's sentinel in
// pkg/types through errors.Is.
var (
	ErrSessionNotFound   = types.NewError(types.KindNotFound, "session not found")
	ErrSessionEnded      = types.NewError(types.KindInvalidState, "session has ended")
	ErrNotInstructor     = types.NewError(types.KindAuthorizationDenied, "not authorized")
	ErrUnknownUnit       = types.NewError(types.KindInvalidReference, "curriculum unit does not exist")
	ErrInvalidInstructor = types.NewError(types.KindValidationFailure, "instructor id is invalid")
	ErrCodesExhausted    = types.NewError(types.KindInternal, "could not allocate a join code")
)
