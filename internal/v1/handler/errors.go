package handler

import "errors"

// Error taxonomy for inbound message handling. These are kinds, not
// exception classes: callers compare with errors.Is, never type-switch.
var (
	// ErrMalformedMessage is a JSON parse failure or a missing "type" field.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownMessageType is syntactically valid JSON whose "type" is not
	// recognized.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrPreconditionViolation is, e.g., a STATE_UPDATE sent while not in any
	// room.
	ErrPreconditionViolation = errors.New("precondition violation")
	// ErrAbsentEntity is an update or remove targeting a player that no
	// longer exists. Callers treat this as a benign race after disconnect
	// and swallow it rather than surfacing an ERROR frame.
	ErrAbsentEntity = errors.New("absent entity")
)
