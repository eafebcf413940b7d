package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statesync/core/internal/v1/protocol"
	"github.com/statesync/core/internal/v1/room"
	"github.com/statesync/core/internal/v1/session"
	"github.com/statesync/core/internal/v1/types"
)

// sequencePositionSource returns a fixed sequence of coordinates so join
// scenarios are deterministic in tests, resolving the Open Question left by
// the source's process-wide PRNG.
type sequencePositionSource struct {
	coords [][2]float64
	i      int
}

func (s *sequencePositionSource) Next() (float64, float64) {
	c := s.coords[s.i%len(s.coords)]
	s.i++
	return c[0], c[1]
}

type capturingSender struct {
	messages [][]byte
}

func (c *capturingSender) Send(data []byte) error {
	c.messages = append(c.messages, data)
	return nil
}

func (c *capturingSender) last() protocol.Envelope {
	env, _ := protocol.Decode(c.messages[len(c.messages)-1])
	return env
}

func newTestHandler() (*Handler, *session.Registry) {
	sessions := session.NewRegistry()
	rooms := room.NewRegistry()
	positions := &sequencePositionSource{coords: [][2]float64{{10, 20}, {30, 40}}}
	return NewWithPositionSource(sessions, rooms, positions), sessions
}

func joinRoom(t *testing.T, h *Handler, sessions *session.Registry, conn any, roomId, name, color string) (*session.Session, *capturingSender) {
	t.Helper()
	sender := &capturingSender{}
	sess := sessions.Create(conn, sender)

	payload, err := json.Marshal(protocol.JoinPayload{PlayerName: name, Color: color})
	require.NoError(t, err)
	frame, err := protocol.Encode(protocol.TypeJoinRoom, roomId, "", nil, nil, json.RawMessage(payload))
	require.NoError(t, err)

	err = h.HandleMessage(context.Background(), sess, frame)
	require.NoError(t, err)

	return sess, sender
}

func TestHandleMessage_SoloJoin(t *testing.T) {
	h, sessions := newTestHandler()

	_, sender := joinRoom(t, h, sessions, &struct{}{}, "R", "A", "#FF0000")

	require.Len(t, sender.messages, 1)
	env := sender.last()
	assert.Equal(t, protocol.TypeFullState, env.Type)
	require.NotNil(t, env.Version)
	assert.Equal(t, uint64(1), *env.Version)

	var payload protocol.FullStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Len(t, payload.Players, 1)
	for _, p := range payload.Players {
		assert.Equal(t, "A", p.PlayerName)
		assert.Equal(t, "#FF0000", p.Color)
	}
}

func TestHandleMessage_TwoClientJoin(t *testing.T) {
	h, sessions := newTestHandler()

	_, c1 := joinRoom(t, h, sessions, &struct{}{}, "R", "A", "#FF0000")
	_, c2 := joinRoom(t, h, sessions, &struct{}{}, "R", "B", "#00FF00")

	env2 := c2.last()
	assert.Equal(t, protocol.TypeFullState, env2.Type)
	assert.Equal(t, uint64(2), *env2.Version)
	var payload protocol.FullStatePayload
	require.NoError(t, json.Unmarshal(env2.Payload, &payload))
	assert.Len(t, payload.Players, 2)

	require.Len(t, c1.messages, 2)
	env1 := c1.last()
	assert.Equal(t, protocol.TypePlayerJoined, env1.Type)
	assert.Equal(t, uint64(2), *env1.Version)
	var joined protocol.PublicPlayer
	require.NoError(t, json.Unmarshal(env1.Payload, &joined))
	assert.Equal(t, "B", joined.PlayerName)
}

func TestHandleMessage_DeltaOnMove(t *testing.T) {
	h, sessions := newTestHandler()

	s1, c1 := joinRoom(t, h, sessions, &struct{}{}, "R", "A", "#FF0000")
	_, c2 := joinRoom(t, h, sessions, &struct{}{}, "R", "B", "#00FF00")

	x, y := 150.0, 200.0
	payload, _ := json.Marshal(protocol.StateUpdatePayload{X: &x, Y: &y})
	frame, _ := protocol.Encode(protocol.TypeStateUpdate, "R", "", nil, nil, json.RawMessage(payload))

	c1Before := len(c1.messages)
	err := h.HandleMessage(context.Background(), s1, frame)
	require.NoError(t, err)

	assert.Equal(t, c1Before, len(c1.messages), "sender receives no echo of its own update")

	env := c2.last()
	assert.Equal(t, protocol.TypeDeltaUpdate, env.Type)
	assert.Equal(t, uint64(3), *env.Version)

	var delta protocol.DeltaUpdatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &delta))
	changes := delta.Players[string(s1.ID())]
	assert.Equal(t, 150.0, changes["x"])
	assert.Equal(t, 200.0, changes["y"])
}

func TestHandleMessage_NoOpUpdate_NoBroadcast(t *testing.T) {
	h, sessions := newTestHandler()

	s1, _ := joinRoom(t, h, sessions, &struct{}{}, "R", "A", "")
	_, c2 := joinRoom(t, h, sessions, &struct{}{}, "R", "B", "")

	r, _ := roomsFromHandler(h).Get("R")
	player, _ := r.GetPlayer(types.PlayerIdType(s1.ID()))

	payload, _ := json.Marshal(protocol.StateUpdatePayload{X: &player.X, Y: &player.Y})
	frame, _ := protocol.Encode(protocol.TypeStateUpdate, "R", "", nil, nil, json.RawMessage(payload))

	before := len(c2.messages)
	err := h.HandleMessage(context.Background(), s1, frame)
	require.NoError(t, err)

	assert.Equal(t, before, len(c2.messages))
	assert.Equal(t, uint64(2), r.Version())
}

func TestHandleMessage_DisconnectCleanup(t *testing.T) {
	h, sessions := newTestHandler()

	s1, _ := joinRoom(t, h, sessions, &struct{}{}, "R", "A", "")
	_, c2 := joinRoom(t, h, sessions, &struct{}{}, "R", "B", "")

	h.HandleDisconnect(context.Background(), s1)

	env := c2.last()
	assert.Equal(t, protocol.TypePlayerLeft, env.Type)
	assert.Equal(t, uint64(3), *env.Version)

	var left protocol.PlayerLeftPayload
	require.NoError(t, json.Unmarshal(env.Payload, &left))
	assert.Equal(t, string(s1.ID()), left.PlayerId)
	assert.Equal(t, "A", left.PlayerName)

	r, ok := roomsFromHandler(h).Get("R")
	require.True(t, ok, "room still exists with C2 present")
	assert.Equal(t, 1, r.PlayerCount())

	_ = sessions
}

func TestHandleMessage_MalformedInput(t *testing.T) {
	h, sessions := newTestHandler()

	sender := &capturingSender{}
	sess := sessions.Create(&struct{}{}, sender)

	err := h.HandleMessage(context.Background(), sess, []byte("not valid json"))

	assert.Error(t, err)
	require.Len(t, sender.messages, 1)
	env := sender.last()
	assert.Equal(t, protocol.TypeError, env.Type)
}

func TestHandleMessage_JoinRoom_MissingRoomId(t *testing.T) {
	h, sessions := newTestHandler()

	sender := &capturingSender{}
	sess := sessions.Create(&struct{}{}, sender)

	frame, _ := protocol.Encode(protocol.TypeJoinRoom, "", "", nil, nil, nil)
	err := h.HandleMessage(context.Background(), sess, frame)

	assert.Error(t, err)
	require.Len(t, sender.messages, 1)
	assert.Equal(t, protocol.TypeError, sender.last().Type)
}

func TestHandleMessage_LeaveRoom_NotInRoom_NoOp(t *testing.T) {
	h, sessions := newTestHandler()

	sender := &capturingSender{}
	sess := sessions.Create(&struct{}{}, sender)

	frame, _ := protocol.Encode(protocol.TypeLeaveRoom, "", "", nil, nil, nil)
	err := h.HandleMessage(context.Background(), sess, frame)

	assert.NoError(t, err)
	assert.Empty(t, sender.messages)
}

func TestHandleMessage_SecondJoinImplicitlyLeaves(t *testing.T) {
	h, sessions := newTestHandler()

	s1, _ := joinRoom(t, h, sessions, &struct{}{}, "R1", "A", "")
	_, c2 := joinRoom(t, h, sessions, &struct{}{}, "R1", "B", "")

	_, err := sessionJoinAnotherRoom(h, s1)
	require.NoError(t, err)

	env := c2.last()
	assert.Equal(t, protocol.TypePlayerLeft, env.Type)
}

func sessionJoinAnotherRoom(h *Handler, s1 *session.Session) (*session.Session, error) {
	frame, _ := protocol.Encode(protocol.TypeJoinRoom, "R2", "", nil, nil, nil)
	return s1, h.HandleMessage(context.Background(), s1, frame)
}

func roomsFromHandler(h *Handler) *room.Registry {
	return h.rooms
}
