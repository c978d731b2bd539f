package websocket

import (
	"log"
	"sync"

	"github.com/tinkertanker/classroom-widgets-sub001/internal/metrics"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/interfaces"
	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// Registry tracks open connections by id and implements
// interfaces.Broadcaster on top of them
// ARCHITECTURAL DISCOVERY: Pure connection tracking; who belongs to which
// session is the session package's business
type Registry struct {
	mu          sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]interfaces.Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]interfaces.Connection)}
}

// Register adds a connection under its id
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	metrics.ConnectionsActive.Inc()
	return nil
}

// Unregister removes conn if it is still the registered instance for its id
func (r *Registry) Unregister(conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[conn.ID()]
	if !exists || registered != conn {
		return false
	}
	delete(r.connections, conn.ID())
	metrics.ConnectionsActive.Dec()
	return true
}

// Get returns the connection for an id
func (r *Registry) Get(connectionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connectionID]
	return conn, exists
}

// Emit pushes an event to one connection without blocking. Unknown ids
// and full buffers are dropped.
func (r *Registry) Emit(connectionID string, event string, payload interface{}) {
	conn, exists := r.Get(connectionID)
	if !exists {
		return
	}
	if err := conn.Send(types.Outbound{Event: event, Data: payload}); err != nil {
		metrics.DroppedPushes.Inc()
		log.Printf("Dropped push: conn=%s event=%s err=%v", connectionID, event, err)
	}
}

// Count returns the number of open connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every registered connection
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			log.Printf("Failed to close connection %s: %v", conn.ID(), err)
		}
	}
}

// GetStats returns registry statistics for monitoring
func (r *Registry) GetStats() map[string]int {
	return map[string]int{
		"total_connections": r.Count(),
	}
}
