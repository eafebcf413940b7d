// Package session tracks live WebSocket connections as Sessions and indexes
// them for the handler and room packages, which only ever see the
// types.SessionInterface contract.
package session

import (
	"sync"
	"time"

	"github.com/statesync/core/internal/v1/types"
)

// sender abstracts the non-blocking outbound submission primitive the
// transport adapter provides per connection. It is deliberately narrow so
// this package never needs to know about gorilla/websocket.
type sender interface {
	Send(data []byte) error
}

// Session is the server-side handle for one live client connection. Every
// mutable field is guarded by mu; fields set once at construction
// (id, connectedAt, send) are safe to read without it.
type Session struct {
	id          types.SessionIdType
	send        sender
	connectedAt time.Time

	mu            sync.RWMutex
	currentRoomId types.RoomIdType
	playerName    string
	playerColor   string
	active        bool
}

// New constructs a Session wrapping send, ready for use. Sessions are
// created exactly once per accepted connection by the Registry.
func New(id types.SessionIdType, send sender) *Session {
	return &Session{
		id:          id,
		send:        send,
		connectedAt: time.Now(),
		active:      true,
	}
}

// ID returns the session's identifier, stable for the connection's lifetime.
func (s *Session) ID() types.SessionIdType {
	return s.id
}

// Send enqueues data on the underlying transport's non-blocking sink.
func (s *Session) Send(data []byte) error {
	return s.send.Send(data)
}

// CurrentRoomId returns the room the session currently occupies, or "" if
// none.
func (s *Session) CurrentRoomId() types.RoomIdType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRoomId
}

// SetCurrentRoomId updates the session's current room.
func (s *Session) SetCurrentRoomId(id types.RoomIdType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRoomId = id
}

// PlayerName returns the display name set at join time.
func (s *Session) PlayerName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerName
}

// SetPlayerName updates the display name.
func (s *Session) SetPlayerName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerName = name
}

// PlayerColor returns the color set at join time.
func (s *Session) PlayerColor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerColor
}

// SetPlayerColor updates the color.
func (s *Session) SetPlayerColor(color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerColor = color
}

// ConnectedAt returns when the session was created.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// IsActive reports whether the connection is still considered live.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// deactivate marks the session inactive. Called by the Registry on removal;
// unexported because only the registry owns the lifecycle transition.
func (s *Session) deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

var _ types.SessionInterface = (*Session)(nil)
