package protocol

import (
	"encoding/json"
	"errors"
)

// Encode marshals msgType and an optional payload, version, and roomId/
// playerId into a wire-ready Envelope. Encoding is stateless and
// goroutine-safe; callers may share a single instance of this function
// across every connection.
func Encode(msgType string, roomId string, playerId string, version *uint64, timestamp *int64, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}

	env := Envelope{
		Type:      msgType,
		RoomId:    roomId,
		PlayerId:  playerId,
		Payload:   raw,
		Version:   version,
		Timestamp: timestamp,
	}
	return json.Marshal(env)
}

// Decode parses a raw inbound frame into an Envelope. Returns an error for
// malformed JSON or a missing type field.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, errMissingType
	}
	return env, nil
}

var errMissingType = errors.New(`message missing required "type" field`)
