package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cohortlive/internal/auth"
	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

// HealthChecker reports store connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsSource reports observer fan-out statistics.
type StatsSource interface {
	Stats() map[string]int64
}

// Deps are the collaborators the HTTP layer routes to.
type Deps struct {
	Sessions interfaces.SessionRegistry
	Presence interfaces.PresenceTracker
	Position interfaces.PositionController
	Verifier *auth.Verifier
	Limiter  *RateLimiter
	Health   HealthChecker
	Stats    StatsSource
	// Observe upgrades GET /ws to an observer stream. Optional.
	Observe http.HandlerFunc
}

// ARCHITECTURAL DISCOVERY: HTTP API layer is a pure interface between clients
// and the services; no business logic, only binding, identity and status
// mapping.
type Server struct {
	deps   Deps
	engine *gin.Engine
}

// NewServer builds the gin engine with every route registered.
func NewServer(deps Deps) *Server {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), corsMiddleware())

	s := &Server{deps: deps, engine: engine}
	s.registerRoutes()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.healthCheck)
	if s.deps.Observe != nil {
		s.engine.GET("/ws", gin.WrapF(s.deps.Observe))
	}

	api := s.engine.Group("/api/v1")
	api.Use(s.deps.Verifier.Middleware())

	limited := s.rateLimit()

	api.POST("/sessions", limited, s.createSession)
	api.GET("/sessions", s.listSessions)
	api.GET("/sessions/:code", s.getSession)
	api.PATCH("/sessions/:code", limited, s.updateSession)
	api.DELETE("/sessions/:code", limited, s.endSession)
	api.GET("/sessions/:code/participants", s.listParticipants)
	api.POST("/sessions/:code/join", limited, s.joinSession)
	api.POST("/sessions/:code/leave", limited, s.leaveSession)
}

// rateLimit applies the per-user limiter to mutating routes.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Limiter == nil {
			c.Next()
			return
		}
		identity, _ := auth.IdentityFromContext(c)
		ok, retryAfter := s.deps.Limiter.Allow(identity.UserID)
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)+1))
			writeError(c, types.ErrRateLimited)
			return
		}
		c.Next()
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Database  string           `json:"database"`
	Observers map[string]int64 `json:"observers,omitempty"`
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
	}
	if s.deps.Health != nil {
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Database = fmt.Sprintf("error: %v", err)
		}
	}
	if s.deps.Stats != nil {
		resp.Observers = s.deps.Stats.Stats()
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// corsMiddleware lets browser clients on other origins call the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
