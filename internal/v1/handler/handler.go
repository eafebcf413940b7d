// Package handler implements the Message Handler (spec §4.E): it parses
// inbound frames, mutates state through a Room, constructs outbound
// messages, and performs the broadcast fan-out to a room's residents.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/statesync/core/internal/v1/logging"
	"github.com/statesync/core/internal/v1/metrics"
	"github.com/statesync/core/internal/v1/protocol"
	"github.com/statesync/core/internal/v1/room"
	"github.com/statesync/core/internal/v1/session"
	"github.com/statesync/core/internal/v1/types"
)

// Handler wires the Session Registry and Room Registry together and drives
// both from inbound frames delivered by the Transport Adapter.
type Handler struct {
	sessions  *session.Registry
	rooms     *room.Registry
	positions PositionSource

	breakersMu sync.Mutex
	breakers   map[types.SessionIdType]*gobreaker.CircuitBreaker
}

// New constructs a Handler over the given registries with the default
// non-deterministic PositionSource.
func New(sessions *session.Registry, rooms *room.Registry) *Handler {
	return NewWithPositionSource(sessions, rooms, NewRandomPositionSource())
}

// NewWithPositionSource constructs a Handler with an injected PositionSource,
// letting tests make join scenarios reproducible.
func NewWithPositionSource(sessions *session.Registry, rooms *room.Registry, positions PositionSource) *Handler {
	return &Handler{
		sessions:  sessions,
		rooms:     rooms,
		positions: positions,
		breakers:  make(map[types.SessionIdType]*gobreaker.CircuitBreaker),
	}
}

// HandleMessage parses one inbound frame and routes it per spec §4.E. Any
// non-nil error other than ErrAbsentEntity has already been reported to the
// sender as an ERROR frame before this returns; ErrAbsentEntity is treated
// as "no action" and is never surfaced to the client.
func (h *Handler) HandleMessage(ctx context.Context, sess types.SessionInterface, raw []byte) error {
	start := time.Now()

	env, err := protocol.Decode(raw)
	if err != nil {
		metrics.WebsocketEvents.WithLabelValues("unknown", "malformed").Inc()
		h.sendError(sess, "malformed message")
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
	}()

	switch env.Type {
	case protocol.TypeJoinRoom:
		err = h.handleJoinRoom(ctx, sess, env)
	case protocol.TypeLeaveRoom:
		err = h.handleLeaveRoom(ctx, sess)
	case protocol.TypeStateUpdate:
		err = h.handleStateUpdate(ctx, sess, env)
	default:
		err = ErrUnknownMessageType
	}

	status := "ok"
	if err != nil {
		status = "error"
		if !errors.Is(err, ErrAbsentEntity) {
			h.sendError(sess, err.Error())
		}
	}
	metrics.WebsocketEvents.WithLabelValues(env.Type, status).Inc()
	return err
}

// HandleDisconnect runs the same cleanup as an explicit LEAVE_ROOM for the
// session's current room, then drops the session's circuit breaker. It does
// not remove the session from the Session Registry; the transport adapter's
// read pump does that after this returns. It is idempotent: calling it after
// an explicit leave does not touch any room because the session's current
// room id is already empty.
func (h *Handler) HandleDisconnect(ctx context.Context, sess types.SessionInterface) {
	_ = h.leaveCurrentRoom(ctx, sess)
	h.forgetBreaker(sess.ID())
}

func (h *Handler) handleJoinRoom(ctx context.Context, sess types.SessionInterface, env protocol.Envelope) error {
	if env.RoomId == "" {
		return fmt.Errorf("%w: roomId required", ErrPreconditionViolation)
	}

	if sess.CurrentRoomId() != "" {
		if err := h.leaveCurrentRoom(ctx, sess); err != nil && !errors.Is(err, ErrAbsentEntity) {
			return err
		}
	}

	var payload protocol.JoinPayload
	_ = decodePayload(env.Payload, &payload)

	r := h.rooms.GetOrCreate(types.RoomIdType(env.RoomId))

	playerId := types.PlayerIdType(sess.ID())
	name := payload.PlayerName
	if name == "" {
		name = defaultPlayerName(string(sess.ID()))
	}
	color := payload.Color
	if color == "" {
		color = paletteColor(r.PlayerCount())
	}
	x, y := h.positions.Next()

	now := time.Now().UnixMilli()
	state := types.PlayerState{
		PlayerId:       playerId,
		PlayerName:     name,
		Color:          color,
		X:              x,
		Y:              y,
		LastUpdateTime: now,
	}

	version := r.AddPlayer(types.SessionIdType(sess.ID()), state)

	sess.SetCurrentRoomId(types.RoomIdType(env.RoomId))
	sess.SetPlayerName(name)
	sess.SetPlayerColor(color)

	h.observeRoomGauges(r)

	h.sendFullState(sess, r, version)
	h.broadcastPlayerJoined(ctx, r, state, version, sess.ID())

	return nil
}

func (h *Handler) handleLeaveRoom(ctx context.Context, sess types.SessionInterface) error {
	if sess.CurrentRoomId() == "" {
		return nil
	}
	return h.leaveCurrentRoom(ctx, sess)
}

func (h *Handler) leaveCurrentRoom(ctx context.Context, sess types.SessionInterface) error {
	roomId := sess.CurrentRoomId()
	if roomId == "" {
		return nil
	}

	r, ok := h.rooms.Get(roomId)
	if !ok {
		sess.SetCurrentRoomId("")
		return ErrAbsentEntity
	}

	playerId := types.PlayerIdType(sess.ID())
	removed, version, ok := r.RemovePlayer(types.SessionIdType(sess.ID()), playerId)
	sess.SetCurrentRoomId("")
	if !ok {
		return ErrAbsentEntity
	}

	h.observeRoomGauges(r)
	h.broadcastPlayerLeft(ctx, r, removed, version)
	h.rooms.RemoveIfEmpty(roomId)

	return nil
}

func (h *Handler) handleStateUpdate(ctx context.Context, sess types.SessionInterface, env protocol.Envelope) error {
	roomId := sess.CurrentRoomId()
	if roomId == "" {
		return fmt.Errorf("%w: not in a room", ErrPreconditionViolation)
	}

	r, ok := h.rooms.Get(roomId)
	if !ok {
		return fmt.Errorf("%w: room no longer exists", ErrPreconditionViolation)
	}

	var payload protocol.StateUpdatePayload
	_ = decodePayload(env.Payload, &payload)

	playerId := types.PlayerIdType(sess.ID())
	current, ok := r.GetPlayer(playerId)
	if !ok {
		return ErrAbsentEntity
	}

	next := current
	now := time.Now().UnixMilli()
	if payload.X != nil {
		next.X = *payload.X
	}
	if payload.Y != nil {
		next.Y = *payload.Y
	}
	next.LastUpdateTime = now

	delta, ok := r.UpdatePlayerState(playerId, next)
	if !ok {
		return ErrAbsentEntity
	}
	if delta.IsEmpty() {
		return nil
	}

	h.broadcastDelta(ctx, r, delta, sess.ID())
	return nil
}

func (h *Handler) observeRoomGauges(r *room.Room) {
	metrics.RoomParticipants.WithLabelValues(string(r.ID())).Set(float64(r.PlayerCount()))
	metrics.RoomVersion.WithLabelValues(string(r.ID())).Set(float64(r.Version()))
}

func defaultPlayerName(sessionId string) string {
	n := sessionId
	if len(n) > 8 {
		n = n[:8]
	}
	return "Player-" + n
}

func decodePayload(raw []byte, into any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, into)
}

func (h *Handler) sendError(sess types.SessionInterface, message string) {
	data, err := protocol.Encode(protocol.TypeError, "", "", nil, nil, protocol.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	_ = sess.Send(data)
}

func (h *Handler) sendFullState(sess types.SessionInterface, r *room.Room, version uint64) {
	players := make(map[string]protocol.PublicPlayer, r.PlayerCount())
	for id, state := range r.GetAllPlayers() {
		players[string(id)] = toPublicPlayer(state)
	}
	data, err := protocol.Encode(protocol.TypeFullState, string(r.ID()), "", &version, nil, protocol.FullStatePayload{Players: players})
	if err != nil {
		return
	}
	_ = sess.Send(data)
}

func (h *Handler) broadcastPlayerJoined(ctx context.Context, r *room.Room, state types.PlayerState, version uint64, exclude types.SessionIdType) {
	data, err := protocol.Encode(protocol.TypePlayerJoined, string(r.ID()), string(state.PlayerId), &version, nil, toPublicPlayer(state))
	if err != nil {
		return
	}
	h.fanOut(ctx, r, data, exclude)
}

func (h *Handler) broadcastPlayerLeft(ctx context.Context, r *room.Room, state types.PlayerState, version uint64) {
	data, err := protocol.Encode(protocol.TypePlayerLeft, string(r.ID()), string(state.PlayerId), &version, nil, protocol.PlayerLeftPayload{
		PlayerId:   string(state.PlayerId),
		PlayerName: state.PlayerName,
	})
	if err != nil {
		return
	}
	h.fanOut(ctx, r, data, "")
}

func (h *Handler) broadcastDelta(ctx context.Context, r *room.Room, delta types.Delta, exclude types.SessionIdType) {
	payload := protocol.DeltaUpdatePayload{
		Players: map[string]map[string]any{string(delta.PlayerId): delta.Changes},
	}
	data, err := protocol.Encode(protocol.TypeDeltaUpdate, string(r.ID()), "", &delta.Version, nil, payload)
	if err != nil {
		return
	}
	h.fanOut(ctx, r, data, exclude)
}

// fanOut snapshots the room's resident session ids, resolves each through
// the Session Registry, and pushes data into every remaining active
// Session's send sink except exclude. A send failure to one recipient never
// aborts the fan-out; repeated failures trip that session's circuit breaker
// so a persistently broken sink stops being retried every broadcast.
func (h *Handler) fanOut(ctx context.Context, r *room.Room, data []byte, exclude types.SessionIdType) {
	start := time.Now()
	defer func() {
		metrics.BroadcastFanoutDuration.WithLabelValues(string(r.ID())).Observe(time.Since(start).Seconds())
	}()

	for _, id := range r.GetSessionIds() {
		if id == exclude {
			continue
		}
		target, ok := h.sessions.GetByID(id)
		if !ok || !target.IsActive() {
			continue
		}

		breaker := h.breakerFor(id)
		_, err := breaker.Execute(func() (any, error) {
			return nil, target.Send(data)
		})
		if err != nil {
			metrics.BroadcastDropped.WithLabelValues(string(r.ID())).Inc()
			logging.Warn(ctx, "fan-out send failed", zap.String("session_id", string(id)), zap.Error(err))
		}
	}
}

func (h *Handler) breakerFor(id types.SessionIdType) *gobreaker.CircuitBreaker {
	h.breakersMu.Lock()
	defer h.breakersMu.Unlock()

	if b, ok := h.breakers[id]; ok {
		return b
	}

	sessionId := id
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(id),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateHalfOpen:
				stateVal = 1
			case gobreaker.StateOpen:
				stateVal = 2
				metrics.CircuitBreakerTrips.WithLabelValues(string(sessionId)).Inc()
			}
			metrics.CircuitBreakerState.WithLabelValues(string(sessionId)).Set(stateVal)
		},
	})
	h.breakers[id] = b
	return b
}

// forgetBreaker drops a session's circuit breaker once it disconnects, so
// the breaker map does not grow without bound across a long-running server.
func (h *Handler) forgetBreaker(id types.SessionIdType) {
	h.breakersMu.Lock()
	defer h.breakersMu.Unlock()
	delete(h.breakers, id)
	metrics.CircuitBreakerState.DeleteLabelValues(string(id))
}

func toPublicPlayer(state types.PlayerState) protocol.PublicPlayer {
	return protocol.PublicPlayer{
		PlayerId:   string(state.PlayerId),
		PlayerName: state.PlayerName,
		Color:      state.Color,
		X:          state.X,
		Y:          state.Y,
	}
}
