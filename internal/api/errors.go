package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"cohortlive/pkg/types"
)

var (
	errMalformedBody = errors.New("malformed request body")
	errUnsupported   = errors.New("only mine=true listings are supported")
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string     `json:"error"`
	Code  types.Kind `json:"code"`
}

var kindStatus = map[types.Kind]int{
	types.KindAuthenticationRequired: http.StatusUnauthorized,
	types.KindAuthorizationDenied:    http.StatusForbidden,
	types.KindNotFound:               http.StatusNotFound,
	types.KindInvalidReference:       http.StatusUnprocessableEntity,
	types.KindInvalidState:           http.StatusConflict,
	types.KindValidationFailure:      http.StatusBadRequest,
	types.KindRateLimited:            http.StatusTooManyRequests,
	types.KindInternal:               http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind types.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError renders err. Authorization and internal failures get their
// generic sentinel message so nothing about the cause leaks.
func writeError(c *gin.Context, err error) {
	kind := types.KindOf(err)

	message := err.Error()
	switch kind {
	case types.KindAuthenticationRequired:
		message = types.ErrAuthenticationRequired.Message
	case types.KindAuthorizationDenied:
		message = types.ErrAuthorizationDenied.Message
	case types.KindInternal:
		message = types.ErrInternal.Message
	}

	c.AbortWithStatusJSON(StatusFor(kind), ErrorResponse{Error: message, Code: kind})
}
