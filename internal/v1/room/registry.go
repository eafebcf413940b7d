package room

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/statesync/core/internal/v1/logging"
	"github.com/statesync/core/internal/v1/metrics"
	"github.com/statesync/core/internal/v1/types"
)

// Registry lazily creates, looks up, and garbage-collects Rooms by id. It
// holds no references to Sessions.
type Registry struct {
	mu    sync.RWMutex
	rooms map[types.RoomIdType]*Room

	group singleflight.Group

	cron *cron.Cron
}

// NewRegistry constructs an empty Room Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[types.RoomIdType]*Room),
	}
}

// GetOrCreate returns the Room for id, creating and installing one if absent.
// Concurrent callers racing on the same id collapse onto a single winner via
// singleflight, so they observe the identical Room instance.
func (reg *Registry) GetOrCreate(id types.RoomIdType) *Room {
	reg.mu.RLock()
	if r, ok := reg.rooms[id]; ok {
		reg.mu.RUnlock()
		return r
	}
	reg.mu.RUnlock()

	v, _, _ := reg.group.Do(string(id), func() (any, error) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		if r, ok := reg.rooms[id]; ok {
			return r, nil
		}
		r := NewRoom(id)
		reg.rooms[id] = r
		metrics.ActiveRooms.Inc()
		return r, nil
	})
	return v.(*Room)
}

// Get returns the Room for id without creating one.
func (reg *Registry) Get(id types.RoomIdType) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// RemoveIfEmpty removes the Room for id iff its player count is zero at the
// moment of the check. Returns whether a removal happened.
func (reg *Registry) RemoveIfEmpty(id types.RoomIdType) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[id]
	if !ok {
		return false
	}
	if !r.IsEmpty() {
		return false
	}

	delete(reg.rooms, id)
	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(string(id))
	metrics.RoomVersion.DeleteLabelValues(string(id))
	return true
}

// Count returns the number of tracked rooms, empty or not.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// snapshot returns the rooms currently tracked, for the sweeper's use.
func (reg *Registry) snapshot() map[types.RoomIdType]*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make(map[types.RoomIdType]*Room, len(reg.rooms))
	for k, v := range reg.rooms {
		out[k] = v
	}
	return out
}

// StartSweeper runs a periodic backstop pass removing rooms that are empty
// right now, in case a disconnect path was ever skipped (e.g. the process
// was killed mid-handler). It carries no grace period: reconnection grace
// periods are out of scope for this core.
func (reg *Registry) StartSweeper(ctx context.Context, spec string) error {
	reg.cron = cron.New()
	_, err := reg.cron.AddFunc(spec, func() {
		reg.sweep(ctx)
	})
	if err != nil {
		return err
	}
	reg.cron.Start()
	return nil
}

// StopSweeper halts the periodic sweep, blocking until the in-flight run (if
// any) finishes.
func (reg *Registry) StopSweeper() {
	if reg.cron == nil {
		return
	}
	<-reg.cron.Stop().Done()
}

func (reg *Registry) sweep(ctx context.Context) {
	metrics.RoomSweeps.Inc()
	var reclaimed int
	for id, r := range reg.snapshot() {
		if r.IsEmpty() && reg.RemoveIfEmpty(id) {
			reclaimed++
		}
	}
	if reclaimed > 0 {
		metrics.RoomsReclaimed.Add(float64(reclaimed))
		logging.Info(ctx, "room sweep reclaimed empty rooms", zap.Int("count", reclaimed))
	}
}
