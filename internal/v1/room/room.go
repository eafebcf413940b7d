// Package room implements the per-room state engine: the players map, the
// resident session-id set, and the monotonic version counter that makes
// incremental synchronization possible. A Room never talks to a Session
// directly; it only ever deals in ids.
package room

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/statesync/core/internal/v1/types"
)

// Room owns one isolated, mutually-visible set of player states. The only
// operation requiring mutual exclusion is UpdatePlayerState; membership
// changes reuse the same lock because they also need read-modify-increment
// atomicity over the version counter.
type Room struct {
	id types.RoomIdType

	mu         sync.RWMutex
	players    map[types.PlayerIdType]types.PlayerState
	sessionIds map[types.SessionIdType]struct{}

	version   atomic.Uint64
	createdAt time.Time
}

// NewRoom constructs an empty Room at version 0.
func NewRoom(id types.RoomIdType) *Room {
	return &Room{
		id:         id,
		players:    make(map[types.PlayerIdType]types.PlayerState),
		sessionIds: make(map[types.SessionIdType]struct{}),
		createdAt:  time.Now(),
	}
}

// ID returns the room's identifier.
func (r *Room) ID() types.RoomIdType {
	return r.id
}

// CreatedAt returns when this Room instance was constructed.
func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// Version returns the room's current version counter.
func (r *Room) Version() uint64 {
	return r.version.Load()
}

// AddPlayer inserts sessionId into the resident set and state under its
// PlayerId, increments the version, and returns the new version. Adding an
// already-present session id overwrites idempotently.
func (r *Room) AddPlayer(sessionId types.SessionIdType, state types.PlayerState) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessionIds[sessionId] = struct{}{}
	r.players[state.PlayerId] = state
	return r.version.Add(1)
}

// RemovePlayer removes sessionId and its associated player record, increments
// the version, and returns the removed PlayerState and the version at which
// the removal took effect. Returns false if the session was not resident;
// the version counter is left untouched in that case.
func (r *Room) RemovePlayer(sessionId types.SessionIdType, playerId types.PlayerIdType) (types.PlayerState, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessionIds[sessionId]; !ok {
		return types.PlayerState{}, r.version.Load(), false
	}

	state, hadPlayer := r.players[playerId]
	delete(r.sessionIds, sessionId)
	delete(r.players, playerId)
	version := r.version.Add(1)
	return state, version, hadPlayer
}

// UpdatePlayerState is the hot path: read-old/compute-delta/write-new/
// increment-version observed as a single atomic transition. Returns false if
// no player exists under playerId; the version is left untouched in that
// case ("no action"). A no-op update (the computed Delta is empty) installs
// the new state but does not advance the version, since no observable change
// occurred for version-aware clients to miss.
func (r *Room) UpdatePlayerState(playerId types.PlayerIdType, newState types.PlayerState) (types.Delta, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldState, ok := r.players[playerId]
	if !ok {
		return types.Delta{}, false
	}

	r.players[playerId] = newState

	current := r.version.Load()
	delta := types.ComputeDelta(oldState, newState, current, newState.LastUpdateTime)
	if delta.IsEmpty() {
		return delta, true
	}

	version := r.version.Add(1)
	delta.Version = version
	return delta, true
}

// GetPlayer returns the current state for playerId, if present.
func (r *Room) GetPlayer(playerId types.PlayerIdType) (types.PlayerState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.players[playerId]
	return state, ok
}

// GetAllPlayers returns a snapshot copy of the players table. Safe to hold
// and iterate without the Room's lock.
func (r *Room) GetAllPlayers() map[types.PlayerIdType]types.PlayerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[types.PlayerIdType]types.PlayerState, len(r.players))
	for k, v := range r.players {
		snapshot[k] = v
	}
	return snapshot
}

// GetSessionIds returns a snapshot copy of the resident session-id set.
func (r *Room) GetSessionIds() []types.SessionIdType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]types.SessionIdType, 0, len(r.sessionIds))
	for id := range r.sessionIds {
		ids = append(ids, id)
	}
	return ids
}

// PlayerCount returns the number of resident players.
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// IsEmpty reports whether the Room has no resident players.
func (r *Room) IsEmpty() bool {
	return r.PlayerCount() == 0
}
