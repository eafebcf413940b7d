// Package transport is the Transport Adapter (spec §4.A): it accepts
// connections over HTTP, completes the WebSocket handshake, delivers inbound
// text frames to a Handler, and exposes a non-blocking send sink per
// connection. Room and session-state concerns live entirely in the handler,
// room, and session packages; this package only ever deals in bytes.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/statesync/core/internal/v1/logging"
	"github.com/statesync/core/internal/v1/session"
	"github.com/statesync/core/internal/v1/types"
)

// MessageHandler is the behavior the adapter drives. The handler package's
// *handler.Handler satisfies it.
type MessageHandler interface {
	HandleMessage(ctx context.Context, sess types.SessionInterface, raw []byte) error
	HandleDisconnect(ctx context.Context, sess types.SessionInterface)
}

// Adapter upgrades HTTP connections to WebSocket at /sync and drives a
// MessageHandler from the resulting frames.
type Adapter struct {
	sessions *session.Registry
	handler  MessageHandler

	allowedOrigins   []string
	idleTimeout      time.Duration
	writeIdleTimeout time.Duration
	handshakeTimeout time.Duration
	maxFrameBytes    int64
}

// Config carries the tunables spec §4.A names: idle detection, write-idle
// grace, handshake timeout, and the maximum frame size.
type Config struct {
	AllowedOrigins   []string
	IdleTimeout      time.Duration
	WriteIdleTimeout time.Duration
	HandshakeTimeout time.Duration
	MaxFrameBytes    int64
}

// NewAdapter constructs an Adapter over the given Session Registry and
// MessageHandler.
func NewAdapter(sessions *session.Registry, handler MessageHandler, cfg Config) *Adapter {
	return &Adapter{
		sessions:         sessions,
		handler:          handler,
		allowedOrigins:   cfg.AllowedOrigins,
		idleTimeout:      cfg.IdleTimeout,
		writeIdleTimeout: cfg.WriteIdleTimeout,
		handshakeTimeout: cfg.HandshakeTimeout,
		maxFrameBytes:    cfg.MaxFrameBytes,
	}
}

// ServeWs upgrades the request to a WebSocket connection at /sync and starts
// the per-connection read/write pumps. The adapter supports compressed
// frames transparently but does not require them.
func (a *Adapter) ServeWs(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: a.handshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, a.allowedOrigins) == nil
		},
		EnableCompression: true,
	}

	// The request's context is torn down when ServeWs returns, but the
	// correlation id it carries should keep tagging this connection's logs
	// for its whole lifetime, so it is detached from cancellation here.
	connCtx := context.WithoutCancel(c.Request.Context())

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(connCtx, "websocket handshake failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(a.maxFrameBytes)

	client := newConnSink(conn)
	sess := a.sessions.Create(conn, client)

	logging.Info(connCtx, "session connected", zap.String("session_id", string(sess.ID())))

	go a.writePump(conn, client)
	a.readPump(connCtx, conn, sess, client)
}

// readPump enforces idle detection and delivers each inbound text frame to
// the handler. Reads for a single connection are processed one at a time in
// arrival order, which is the serialization guarantee the handler package
// relies on.
func (a *Adapter) readPump(ctx context.Context, conn *websocket.Conn, sess *session.Session, client *connSink) {
	defer func() {
		a.handler.HandleDisconnect(ctx, sess)
		a.sessions.Remove(conn)
		client.close()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(a.idleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(a.idleTimeout))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		conn.SetReadDeadline(time.Now().Add(a.idleTimeout))

		if err := a.handler.HandleMessage(ctx, sess, data); err != nil {
			logging.Warn(ctx, "message handling failed",
				zap.String("session_id", string(sess.ID())), zap.Error(err))
		}
	}
}

// writePump owns all writes to conn: the handler's broadcast fan-out never
// touches the socket directly, it only ever pushes onto the connSink's
// buffered channel. A periodic ping keeps idle-but-healthy connections from
// being mistaken for dead ones by intermediate proxies.
func (a *Adapter) writePump(conn *websocket.Conn, client *connSink) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	defer conn.Close()

	writeWait := a.writeIdleTimeout

	for {
		select {
		case data, ok := <-client.outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

// validateOrigin allows any request that carries no Origin header (native
// clients) and otherwise requires a scheme+host match against allowedOrigins.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return err
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(strings.TrimSpace(allowed))
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	return errOriginNotAllowed
}
