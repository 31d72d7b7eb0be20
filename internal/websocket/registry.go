package websocket

import (
	"log"
	"sync"
)

// Registry tracks observer connections per session.
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic;
// the hub decides what to send and the registry only answers "to whom".
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Connection // sessionID -> userID -> Connection
	total    int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds an authenticated connection. A user observing the
// same session from a second socket replaces the first one.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	userID := conn.GetUserID()
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	observers := r.sessions[sessionID]
	if observers == nil {
		observers = make(map[string]*Connection)
		r.sessions[sessionID] = observers
	}

	if existing, ok := observers[userID]; ok {
		// Closed outside the lock; Close blocks on the socket.
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("websocket: close replaced connection user=%s: %v", userID, err)
			}
		}()
	} else {
		r.total++
	}
	observers[userID] = conn

	return nil
}

// UnregisterConnection removes conn if it is still the registered connection
// for its user and session. Idempotent.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	userID := conn.GetUserID()
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	observers, ok := r.sessions[sessionID]
	if !ok || observers[userID] != conn {
		return
	}
	delete(observers, userID)
	r.total--
	if len(observers) == 0 {
		delete(r.sessions, sessionID)
	}
}

// GetSessionConnections returns every connection observing sessionID.
func (r *Registry) GetSessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	observers := r.sessions[sessionID]
	connections := make([]*Connection, 0, len(observers))
	for _, conn := range observers {
		connections = append(connections, conn)
	}
	return connections
}

// RemoveSession drops every connection of sessionID and returns them so the
// caller can close them.
func (r *Registry) RemoveSession(sessionID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	observers := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.total -= len(observers)

	connections := make([]*Connection, 0, len(observers))
	for _, conn := range observers {
		connections = append(connections, conn)
	}
	return connections
}

// GetStats returns registry statistics for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": r.total,
		"active_sessions":   len(r.sessions),
	}
}
