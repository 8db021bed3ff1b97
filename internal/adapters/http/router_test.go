package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VideoRoom/internal/adapters/signal"
	"github.com/dkeye/VideoRoom/internal/app"
	"github.com/dkeye/VideoRoom/internal/app/orch"
	"github.com/dkeye/VideoRoom/internal/app/sfu"
	"github.com/dkeye/VideoRoom/internal/config"
	"github.com/dkeye/VideoRoom/internal/core"
	"github.com/dkeye/VideoRoom/internal/protocol"
)

func newServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := app.NewMetrics(reg)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(func(n int) { metrics.Rooms.Set(float64(n)) }),
		Policy:   app.SimplePolicy{},
		Relays:   sfu.NewRelayManager(metrics.Relays, metrics.ForwardedPackets),
		Metrics:  metrics,
		NewMedia: func(core.SessionID) (core.MediaConnection, error) { return nil, assert.AnError },
	}
	cfg := &config.Config{Mode: "release", Secret: "cookie-secret"}
	ctl := signal.NewSignalWSController(o, signal.Options{TokenSecret: []byte("x")}, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o, ctl, reg))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

func TestHealthAndRooms(t *testing.T) {
	srv, o := newServer(t)
	o.Rooms.GetOrCreate("b")
	o.Rooms.GetOrCreate("a")

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Rooms []core.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Rooms, 2)
	assert.Equal(t, "a", string(body.Rooms[0].Name))
	assert.NotEmpty(t, resp.Header.Get("Set-Cookie"))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, o := newServer(t)
	o.Rooms.GetOrCreate("a")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "videoroom_rooms 1")
}

func TestSignalPingOverWebSocket(t *testing.T) {
	srv, o := newServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(protocol.Message{Type: protocol.TypePing, ID: "p1"}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got protocol.Message
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, protocol.TypePong, got.Type)
	assert.Equal(t, "p1", got.ReplyTo)

	require.NoError(t, ws.WriteJSON(protocol.Message{Type: protocol.TypeJoin, ID: "j1", Room: "r", Token: "bad"}))
	require.NoError(t, ws.ReadJSON(&got))
	assert.Equal(t, protocol.TypeError, got.Type)
	assert.Equal(t, protocol.CodeUnauthorized, got.Code)

	ws.Close()
	assert.Eventually(t, func() bool {
		return len(o.Registry.MembersOfRoom("")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
