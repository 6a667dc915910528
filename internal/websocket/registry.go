package websocket

import (
	"log"
	"sync"
)

// Registry tracks event-feed subscribers by player and by session
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic;
// one live feed per player, replaced on reconnect
type Registry struct {
	mu                 sync.RWMutex
	playerConnections  map[string]*Connection            // playerID -> Connection
	sessionConnections map[string]map[string]*Connection // sessionID -> playerID -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		playerConnections:  make(map[string]*Connection),
		sessionConnections: make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds a bound connection, replacing the player's previous one
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsBound() {
		return ErrConnectionNotBound
	}

	playerID := conn.GetPlayerID()
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	// FUNCTIONAL DISCOVERY: Close existing connection asynchronously to prevent deadlock
	// during registration while ensuring immediate replacement
	if existing, exists := r.playerConnections[playerID]; exists {
		r.removeLocked(existing)
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close replaced connection: %v", err)
			}
		}()
	}

	r.playerConnections[playerID] = conn
	if r.sessionConnections[sessionID] == nil {
		r.sessionConnections[sessionID] = make(map[string]*Connection)
	}
	r.sessionConnections[sessionID][playerID] = conn

	return nil
}

// UnregisterConnection removes conn if it is still the registered one
// RACE CONDITION FIX: an old connection cleaning up must not remove its replacement
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.playerConnections[conn.GetPlayerID()]; !exists || registered != conn {
		return
	}
	r.removeLocked(conn)
}

// DropSession unregisters every subscriber of sessionID and returns them
func (r *Registry) DropSession(sessionID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []*Connection
	for _, conn := range r.sessionConnections[sessionID] {
		dropped = append(dropped, conn)
	}
	for _, conn := range dropped {
		r.removeLocked(conn)
	}
	return dropped
}

// removeLocked drops conn from both maps. r.mu must be held.
func (r *Registry) removeLocked(conn *Connection) {
	playerID := conn.GetPlayerID()
	sessionID := conn.GetSessionID()

	delete(r.playerConnections, playerID)
	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if subscribers, exists := r.sessionConnections[sessionID]; exists {
		if subscribers[playerID] == conn {
			delete(subscribers, playerID)
		}
		if len(subscribers) == 0 {
			delete(r.sessionConnections, sessionID)
		}
	}
}

// GetPlayerConnection returns the current connection for a player
func (r *Registry) GetPlayerConnection(playerID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.playerConnections[playerID]
	return conn, exists
}

// GetSessionConnections returns all subscribers of a session
func (r *Registry) GetSessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.sessionConnections[sessionID]))
	for _, conn := range r.sessionConnections[sessionID] {
		connections = append(connections, conn)
	}
	return connections
}

// GetStats returns registry statistics
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.playerConnections),
		"active_sessions":   len(r.sessionConnections),
	}
}
