package ws

import (
	"log"
	"sync"
)

// Registry tracks live connections keyed by (sessionID, userID) with
// explicit lifecycle, so tests can instantiate isolated instances instead of
// relying on ambient global state. Message fan-out is the mediator's job;
// the registry only answers "which socket belongs to whom".
type Registry struct {
	sessions map[string]map[string]*Connection // sessionID -> userID -> Connection
	mu       sync.RWMutex
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Connection),
	}
}

// Register adds a connection, superseding any previous connection for the
// same (session, user). The superseded socket is closed asynchronously to
// avoid blocking registration.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsBound() {
		return ErrConnectionNotBound
	}

	sessionID := conn.SessionID()
	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]*Connection)
	}
	if existing, exists := r.sessions[sessionID][userID]; exists && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close superseded connection: %v", err)
			}
		}()
	}
	r.sessions[sessionID][userID] = conn
	return nil
}

// Unregister removes a specific connection. Idempotent; a connection that
// was already superseded does not remove its replacement.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	sessionID := conn.SessionID()
	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	users, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	if registered, ok := users[userID]; !ok || registered != conn {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.sessions, sessionID)
	}
}

// Get returns the current connection for a (session, user).
func (r *Registry) Get(sessionID, userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users, exists := r.sessions[sessionID]
	if !exists {
		return nil, false
	}
	conn, ok := users[userID]
	return conn, ok
}

// SessionConnections returns all connections attached to a session.
func (r *Registry) SessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users, exists := r.sessions[sessionID]
	if !exists {
		return nil
	}
	connections := make([]*Connection, 0, len(users))
	for _, conn := range users {
		connections = append(connections, conn)
	}
	return connections
}

// Stats returns registry counters for health reporting.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, users := range r.sessions {
		total += len(users)
	}
	return map[string]int{
		"total_connections": total,
		"active_sessions":   len(r.sessions),
	}
}
