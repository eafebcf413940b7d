package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statesync/core/internal/v1/handler"
	"github.com/statesync/core/internal/v1/protocol"
	"github.com/statesync/core/internal/v1/room"
	"github.com/statesync/core/internal/v1/session"
	"github.com/statesync/core/internal/v1/types"
)

func TestValidateOrigin_Allowed(t *testing.T) {
	req := httptest.NewRequest("GET", "/sync", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	err := validateOrigin(req, []string{"http://localhost:3000", "https://example.com"})
	assert.NoError(t, err)
}

func TestValidateOrigin_Blocked(t *testing.T) {
	req := httptest.NewRequest("GET", "/sync", nil)
	req.Header.Set("Origin", "http://evil.example")

	err := validateOrigin(req, []string{"http://localhost:3000"})
	assert.ErrorIs(t, err, errOriginNotAllowed)
}

func TestValidateOrigin_NoHeaderAllowsNonBrowserClients(t *testing.T) {
	req := httptest.NewRequest("GET", "/sync", nil)

	err := validateOrigin(req, []string{"http://localhost:3000"})
	assert.NoError(t, err)
}

func TestValidateOrigin_SchemeMustMatch(t *testing.T) {
	req := httptest.NewRequest("GET", "/sync", nil)
	req.Header.Set("Origin", "https://localhost:3000")

	err := validateOrigin(req, []string{"http://localhost:3000"})
	assert.ErrorIs(t, err, errOriginNotAllowed)
}

// echoHandler is a MessageHandler double that simply echoes HandleMessage
// calls back to the sender, enough to exercise the read/write pumps
// end-to-end over a real websocket connection.
type echoHandler struct{}

func (echoHandler) HandleMessage(ctx context.Context, sess types.SessionInterface, raw []byte) error {
	return sess.Send(raw)
}

func (echoHandler) HandleDisconnect(ctx context.Context, sess types.SessionInterface) {}

func newTestServer(t *testing.T, h MessageHandler) (*httptest.Server, *session.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sessions := session.NewRegistry()
	adapter := NewAdapter(sessions, h, Config{
		IdleTimeout:      2 * time.Second,
		WriteIdleTimeout: 2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		MaxFrameBytes:    65536,
	})

	router := gin.New()
	router.GET("/sync", adapter.ServeWs)
	srv := httptest.NewServer(router)
	return srv, sessions
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestAdapter_RoundTripsTextFrames(t *testing.T) {
	srv, _ := newTestServer(t, echoHandler{})
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/sync", nil)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := protocol.Encode(protocol.TypeJoinRoom, "R", "", nil, nil, protocol.JoinPayload{PlayerName: "A"})
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, protocol.TypeJoinRoom, env.Type)
}

func TestAdapter_RejectsDisallowedOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sessions := session.NewRegistry()
	adapter := NewAdapter(sessions, echoHandler{}, Config{
		AllowedOrigins:   []string{"https://allowed.example"},
		IdleTimeout:      time.Second,
		WriteIdleTimeout: time.Second,
		HandshakeTimeout: time.Second,
		MaxFrameBytes:    65536,
	})
	router := gin.New()
	router.GET("/sync", adapter.ServeWs)
	srv := httptest.NewServer(router)
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/sync", header)

	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestAdapter_DisconnectRemovesSession(t *testing.T) {
	srv, sessions := newTestServer(t, echoHandler{})
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/sync", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sessions.Count() == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return sessions.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// sanity check that the adapter composes with the real room/handler stack,
// not just the echoHandler double.
func TestAdapter_WithRealHandler_JoinProducesFullState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sessions := session.NewRegistry()
	h := handler.New(sessions, room.NewRegistry())
	adapter := NewAdapter(sessions, h, Config{
		IdleTimeout:      2 * time.Second,
		WriteIdleTimeout: 2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		MaxFrameBytes:    65536,
	})
	router := gin.New()
	router.GET("/sync", adapter.ServeWs)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/sync", nil)
	require.NoError(t, err)
	defer conn.Close()

	frame, err := protocol.Encode(protocol.TypeJoinRoom, "R", "", nil, nil, protocol.JoinPayload{PlayerName: "A"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, protocol.TypeFullState, env.Type)
}
