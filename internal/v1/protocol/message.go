// Package protocol defines the JSON wire format exchanged over the
// synchronization WebSocket: one message per text frame, a small enum of
// message kinds, and the payload shapes each kind carries.
package protocol

import "encoding/json"

// Message kinds, inbound and outbound.
const (
	TypeJoinRoom    = "JOIN_ROOM"
	TypeLeaveRoom   = "LEAVE_ROOM"
	TypeStateUpdate = "STATE_UPDATE"

	TypeFullState    = "FULL_STATE"
	TypeDeltaUpdate  = "DELTA_UPDATE"
	TypePlayerJoined = "PLAYER_JOINED"
	TypePlayerLeft   = "PLAYER_LEFT"
	TypeError        = "ERROR"
)

// Envelope is the shape of every frame, inbound or outbound. Unknown fields
// on input are ignored by encoding/json by default; null/zero optional
// fields are omitted on output via omitempty.
type Envelope struct {
	Type      string          `json:"type"`
	RoomId    string          `json:"roomId,omitempty"`
	PlayerId  string          `json:"playerId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Version   *uint64         `json:"version,omitempty"`
	Timestamp *int64          `json:"timestamp,omitempty"`
}

// JoinPayload is the inbound payload for JOIN_ROOM.
type JoinPayload struct {
	PlayerName string `json:"playerName,omitempty"`
	Color      string `json:"color,omitempty"`
}

// StateUpdatePayload is the inbound payload for STATE_UPDATE. X and Y are
// pointers so an absent field can be distinguished from an explicit zero.
type StateUpdatePayload struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
}

// PublicPlayer is the externally visible subset of a player's state, used in
// FULL_STATE and PLAYER_JOINED.
type PublicPlayer struct {
	PlayerId   string  `json:"playerId"`
	PlayerName string  `json:"playerName"`
	Color      string  `json:"color"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// FullStatePayload is the outbound payload for FULL_STATE.
type FullStatePayload struct {
	Players map[string]PublicPlayer `json:"players"`
}

// DeltaUpdatePayload is the outbound payload for DELTA_UPDATE. Each entry
// under Players carries only the fields that changed.
type DeltaUpdatePayload struct {
	Players map[string]map[string]any `json:"players"`
}

// PlayerLeftPayload is the outbound payload for PLAYER_LEFT.
type PlayerLeftPayload struct {
	PlayerId   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

// ErrorPayload is the outbound payload for ERROR.
type ErrorPayload struct {
	Message string `json:"message"`
}
