package transport

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// outboundBufferSize bounds how many frames can queue for a slow reader
// before Send starts dropping. Matches the non-blocking backpressure
// discipline the handler's fan-out already assumes.
const outboundBufferSize = 32

var errOriginNotAllowed = errors.New("transport: origin not allowed")

// errSendBufferFull is returned by connSink.Send when the outbound buffer is
// saturated; the handler's broadcast fan-out treats this as a dropped frame.
var errSendBufferFull = errors.New("transport: send buffer full")

// errConnClosed is returned by connSink.Send once the connection's write
// pump has torn down.
var errConnClosed = errors.New("transport: connection closed")

// connSink is the per-connection sender the session package holds. All
// writes to the underlying websocket.Conn happen on the Adapter's writePump
// goroutine; Send only ever enqueues.
type connSink struct {
	conn     *websocket.Conn
	outbound chan []byte
	done     chan struct{}
	closeOnce sync.Once
}

func newConnSink(conn *websocket.Conn) *connSink {
	return &connSink{
		conn:     conn,
		outbound: make(chan []byte, outboundBufferSize),
		done:     make(chan struct{}),
	}
}

// Send enqueues data for delivery without blocking. If the buffer is full
// the frame is dropped; the caller (the handler's fan-out) accounts this as
// a dropped delivery rather than stalling the broadcasting goroutine.
func (c *connSink) Send(data []byte) error {
	select {
	case c.outbound <- data:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

// close stops the write pump and is safe to call more than once.
func (c *connSink) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
