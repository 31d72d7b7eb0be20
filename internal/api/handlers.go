package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cohortlive/internal/auth"
	"cohortlive/pkg/types"
)

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	CurriculumUnitID string `json:"curriculum_unit_id"`
}

// identity returns the caller set by the auth middleware. The middleware
// guarantees it on every /api/v1 route.
func identity(c *gin.Context) (types.Identity, bool) {
	id, ok := auth.IdentityFromContext(c)
	if !ok {
		writeError(c, types.ErrAuthenticationRequired)
	}
	return id, ok
}

func (s *Server) createSession(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	if !caller.CanCreateSessions() {
		writeError(c, types.ErrAuthorizationDenied)
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, types.ValidationError(errMalformedBody))
		return
	}
	if req.CurriculumUnitID == "" {
		writeError(c, types.NewError(types.KindValidationFailure, "curriculum_unit_id is required"))
		return
	}

	session, err := s.deps.Sessions.Create(c.Request.Context(), caller.UserID, req.CurriculumUnitID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) listSessions(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	if c.Query("mine") != "true" {
		writeError(c, types.ValidationError(errUnsupported))
		return
	}

	sessions, err := s.deps.Sessions.ListActiveForInstructor(c.Request.Context(), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) getSession(c *gin.Context) {
	view, err := s.deps.Sessions.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) updateSession(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	var req types.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, types.ValidationError(errMalformedBody))
		return
	}
	if req.RequestID == "" {
		req.RequestID = c.GetHeader("Idempotency-Key")
	}

	pos, err := s.deps.Position.Advance(c.Request.Context(), c.Param("code"), caller.UserID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) endSession(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	result, err := s.deps.Sessions.End(c.Request.Context(), c.Param("code"), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listParticipants(c *gin.Context) {
	roster, err := s.deps.Presence.ListActive(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	if roster == nil {
		roster = []types.RosterEntry{}
	}
	c.JSON(http.StatusOK, roster)
}

func (s *Server) joinSession(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	result, err := s.deps.Presence.Join(c.Request.Context(), c.Param("code"), caller.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) leaveSession(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	if err := s.deps.Presence.Leave(c.Request.Context(), c.Param("code"), caller.UserID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
