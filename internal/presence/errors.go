package presence

import "cohortlive/pkg/types"

var (
	ErrSessionNotFound    = types.NewError(types.KindNotFound, "session not found")
	ErrSessionEnded       = types.NewError(types.KindInvalidState, "session has ended")
	ErrInvalidParticipant = types.NewError(types.KindValidationFailure, "participant id is invalid")
)
