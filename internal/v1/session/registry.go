package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/statesync/core/internal/v1/metrics"
	"github.com/statesync/core/internal/v1/types"
)

// ConnHandle identifies one accepted connection for the lifetime of the
// Registry's by-conn index. The transport adapter's *websocket.Conn
// satisfies this trivially by virtue of being a comparable pointer type.
type ConnHandle any

// Registry tracks every live connection as a Session, indexed by both
// connection handle and session id. All operations are safe to call
// concurrently from unrelated connection goroutines.
type Registry struct {
	mu     sync.RWMutex
	byConn map[ConnHandle]*Session
	byID   map[types.SessionIdType]*Session
}

// NewRegistry constructs an empty Session Registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[ConnHandle]*Session),
		byID:   make(map[types.SessionIdType]*Session),
	}
}

// Create mints a fresh session id, wraps send in a Session, and registers it
// under both indexes. The adapter guarantees exactly one call per accepted
// connection, so this never needs to check for an existing entry under conn.
func (reg *Registry) Create(conn ConnHandle, send sender) *Session {
	id := types.SessionIdType(uuid.NewString())
	s := New(id, send)

	reg.mu.Lock()
	reg.byConn[conn] = s
	reg.byID[id] = s
	reg.mu.Unlock()

	metrics.IncConnection()
	return s
}

// Remove removes the session registered under conn from both indexes and
// returns it, if any. The removed session is marked inactive so any
// in-flight broadcast fan-out skips it.
func (reg *Registry) Remove(conn ConnHandle) (*Session, bool) {
	reg.mu.Lock()
	s, ok := reg.byConn[conn]
	if ok {
		delete(reg.byConn, conn)
		delete(reg.byID, s.ID())
	}
	reg.mu.Unlock()

	if !ok {
		return nil, false
	}
	s.deactivate()
	metrics.DecConnection()
	return s, true
}

// GetByConn returns the session registered under conn, if any.
func (reg *Registry) GetByConn(conn ConnHandle) (*Session, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s, ok := reg.byConn[conn]
	return s, ok
}

// GetByID returns the session with the given id, if any.
func (reg *Registry) GetByID(id types.SessionIdType) (*Session, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s, ok := reg.byID[id]
	return s, ok
}

// Count returns the number of currently registered sessions.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.byID)
}
