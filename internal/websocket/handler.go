package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cohortlive/internal/auth"
	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

var upgrader = websocket.Upgrader{
	// Observers are authenticated by token, not by origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (*types.Identity, error)
}

// RosterSource lists the current roster of a session by id.
type RosterSource interface {
	Roster(ctx context.Context, sessionID string) ([]types.RosterEntry, error)
}

// Options tune the per-connection heartbeat and buffering.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultOptions returns a 30s ping with a 60s read deadline.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: DefaultWriteTimeout,
		BufferSize:   DefaultBufferSize,
	}
}

// Handler upgrades observer requests and attaches them to a session's event
// stream.
type Handler struct {
	registry *Registry
	verifier TokenVerifier
	sessions interfaces.SessionResolver
	roster   RosterSource
	opts     Options
}

// NewHandler creates a websocket handler.
func NewHandler(registry *Registry, verifier TokenVerifier, sessions interfaces.SessionResolver, roster RosterSource, opts Options) *Handler {
	defaults := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	return &Handler{
		registry: registry,
		verifier: verifier,
		sessions: sessions,
		roster:   roster,
		opts:     opts,
	}
}

// HandleWebSocket validates the token and join code, upgrades the request and
// sends a snapshot before streaming events.
// ARCHITECTURAL DISCOVERY: Validation happens before the upgrade so failures
// get plain HTTP status codes instead of a socket that closes immediately.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r)
	if token == "" {
		http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
		return
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	joinCode := r.URL.Query().Get("join_code")
	if joinCode == "" {
		http.Error(w, "missing join_code", http.StatusBadRequest)
		return
	}

	session, err := h.sessions.Resolve(r.Context(), joinCode)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !session.IsActive {
		http.Error(w, "session has ended", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	wsConn := NewConnectionWithOptions(conn, h.opts.BufferSize, h.opts.WriteTimeout)
	if err := wsConn.SetCredentials(identity.UserID, session.ID); err != nil {
		log.Printf("websocket: set credentials: %v", err)
		_ = wsConn.Close()
		return
	}

	// Registered before the snapshot is read so no event can fall between
	// the two; a client applies events on top of the snapshot.
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("websocket: register connection: %v", err)
		_ = wsConn.Close()
		return
	}
	log.Printf("websocket: observer attached user=%s session=%s", identity.UserID, session.ID)

	go h.sendSnapshot(wsConn, session)
	go h.handleConnection(wsConn)
}

// sendSnapshot re-reads the session so the snapshot is at least as new as
// any event already queued. A session that ended between the upgrade and
// the re-read gets a final inactive snapshot and the connection is closed,
// since its SessionEnded event may already have gone out.
func (h *Handler) sendSnapshot(conn *Connection, session *types.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
	defer cancel()

	current := session
	fresh, err := h.sessions.Resolve(ctx, session.JoinCode)
	switch {
	case err == nil && fresh.ID == session.ID:
		current = fresh
	case err == nil, errors.Is(err, types.ErrNotFound):
		// The code now belongs to another session or to none.
		ended := *session
		ended.IsActive = false
		current = &ended
	}

	roster, err := h.roster.Roster(ctx, session.ID)
	if err != nil {
		log.Printf("websocket: roster for snapshot session=%s: %v", session.ID, err)
		roster = []types.RosterEntry{}
	}

	snapshot := types.NewSnapshotEvent(session.ID, types.Snapshot{
		Position: current.Position(),
		IsActive: current.IsActive,
		Roster:   roster,
	})
	if err := conn.WriteJSON(snapshot); err != nil {
		log.Printf("websocket: send snapshot user=%s: %v", conn.GetUserID(), err)
		return
	}
	if !current.IsActive {
		log.Printf("websocket: session=%s ended before snapshot, detaching user=%s", session.ID, conn.GetUserID())
		_ = conn.CloseAfterFlush()
	}
}

// handleConnection runs the read pump and heartbeat until the peer goes away.
// Observers are read-only; inbound frames are discarded.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.opts.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("websocket: read error user=%s: %v", conn.GetUserID(), err)
			}
			return
		}
	}
}
