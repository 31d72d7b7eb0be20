package position

import "cohortlive/pkg/types"

var (
	ErrSessionEnded  = types.NewError(types.KindInvalidState, "session has ended")
	ErrNotInstructor = types.NewError(types.KindAuthorizationDenied, "not authorized")
)
