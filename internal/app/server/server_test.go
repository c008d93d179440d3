package server_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"pulsegate/internal/app/registry"
	"pulsegate/internal/app/server"
	"pulsegate/internal/config"
	"pulsegate/internal/core/domain"
	"pulsegate/internal/core/services"
	"pulsegate/pkg/wsclient"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func testConfig(budget int) *config.Config {
	return &config.Config{
		Service: &config.ServiceConfig{Name: "pulsegate-test", Env: "development", Addr: ":0"},
		Gateway: &config.GatewayConfig{
			PingInterval: 10 * time.Second,
			PongTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Second,
			PollWait:     100 * time.Millisecond,
		},
		RateLimit: &config.RateLimitConfig{Budget: budget, Window: time.Minute},
	}
}

func newTestGateway(t *testing.T, budget int) (*httptest.Server, *registry.Registry, *services.DispatchService) {
	t.Helper()
	log := slog.Default()
	hub := registry.NewRegistry(log)
	tokenSvc := services.NewTokenService("test-secret")
	dispatch := services.NewDispatchService(log, hub, nil)
	srv := server.NewGateway().Build(log, testConfig(budget), hub, tokenSvc, dispatch)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, hub, dispatch
}

func wsURL(ts *httptest.Server) string {
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

func dialWS(t *testing.T, ts *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	// first frame is always the connection confirmation
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, domain.EventConnectionConfirmed, env.Event)
	var confirmed domain.ConnectionConfirmedPayload
	require.NoError(t, json.Unmarshal(env.Data, &confirmed))
	require.NotEmpty(t, confirmed.SocketID)
	require.NotZero(t, confirmed.Timestamp)
	return conn, confirmed.SocketID
}

func emit(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	env, err := domain.NewEnvelope(event, payload)
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func waitMembership(t *testing.T, hub *registry.Registry, socketID, roomID string, joined bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, r := range hub.Rooms(socketID) {
			if r == roomID {
				return joined
			}
		}
		return !joined
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGatewayConstructionIsIdempotent(t *testing.T) {
	log := slog.Default()
	hub := registry.NewRegistry(log)
	tokenSvc := services.NewTokenService("s")
	dispatch := services.NewDispatchService(log, hub, nil)

	gw := server.NewGateway()
	first := gw.Build(log, testConfig(100), hub, tokenSvc, dispatch)
	second := gw.Build(log, testConfig(100), hub, tokenSvc, dispatch)
	require.Same(t, first, second)
}

func TestJoinBroadcastLeave(t *testing.T) {
	ts, hub, dispatch := newTestGateway(t, 1000)
	conn, socketID := dialWS(t, ts)

	emit(t, conn, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "question:q1", UserID: "u1"})
	waitMembership(t, hub, socketID, "question:q1", true)

	payload := domain.AnswerReactionPayload{AnswerID: "a1", LikeCount: 4, DislikeCount: 0, Timestamp: 42}
	require.NoError(t, dispatch.ReactionUpdated(context.Background(), "q1", payload))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, domain.EventAnswerReaction, env.Event)
	var got domain.AnswerReactionPayload
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, payload, got)

	emit(t, conn, domain.EventLeaveRoom, domain.LeaveRoomPayload{RoomID: "question:q1", UserID: "u1"})
	waitMembership(t, hub, socketID, "question:q1", false)

	require.NoError(t, dispatch.ReactionUpdated(context.Background(), "q1", payload))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "after leaving the room the broadcast must not arrive")
}

func TestBroadcastScopedToRoomMembers(t *testing.T) {
	ts, hub, dispatch := newTestGateway(t, 1000)
	member, memberID := dialWS(t, ts)
	outsider, _ := dialWS(t, ts)

	emit(t, member, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "user:expert", UserID: "expert"})
	waitMembership(t, hub, memberID, "user:expert", true)

	adopted := domain.AnswerAdoptedPayload{
		AnswerID: "a1", AdopterID: "asker", AdopteeID: "expert", QuestionID: "q1", Timestamp: 1000,
	}
	require.NoError(t, dispatch.AnswerAdopted(context.Background(), adopted))

	require.NoError(t, member.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := member.ReadMessage()
	require.NoError(t, err)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, domain.EventAnswerAdopted, env.Event)

	require.NoError(t, outsider.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = outsider.ReadMessage()
	require.Error(t, err, "non-members must not receive the broadcast")
}

func TestPerEventRateLimit(t *testing.T) {
	// budget 3: the connection attempt consumes 1, two events fit, the third is rejected
	ts, hub, _ := newTestGateway(t, 3)
	conn, socketID := dialWS(t, ts)

	emit(t, conn, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "r1", UserID: "u"})
	waitMembership(t, hub, socketID, "r1", true)
	emit(t, conn, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "r2", UserID: "u"})
	waitMembership(t, hub, socketID, "r2", true)

	emit(t, conn, domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: "r3", UserID: "u"})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, domain.EventError, env.Event)
	var p domain.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	require.Equal(t, "rate_limited", p.Code)

	// the rejected event was not applied
	for _, r := range hub.Rooms(socketID) {
		require.NotEqual(t, "r3", r)
	}
}

func TestAbnormalDisconnectReleasesClientGoroutines(t *testing.T) {
	ts, _, _ := newTestGateway(t, 1000)

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		conn, _ := dialWS(t, ts)
		// kill the TCP stream without a close frame, like a crashed peer
		require.NoError(t, conn.UnderlyingConn().Close())
	}

	// each dropped session must tear down its write goroutine
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 3*time.Second, 50*time.Millisecond)
}

func TestClientSDKOverWebSocket(t *testing.T) {
	ts, hub, dispatch := newTestGateway(t, 1000)

	cfg := wsclient.DefaultConfig()
	cfg.URL = ts.URL
	cfg.Transports = []wsclient.Transport{wsclient.WebSocketTransport{}}
	c := wsclient.NewClient(cfg)

	var socketID string
	confirmed := make(chan string, 1)
	c.On(domain.EventConnectionConfirmed, func(data json.RawMessage) {
		var p domain.ConnectionConfirmedPayload
		if json.Unmarshal(data, &p) == nil {
			confirmed <- p.SocketID
		}
	})
	badges := make(chan domain.BadgeAwardedPayload, 1)
	c.On(domain.EventBadgeAwarded, func(data json.RawMessage) {
		var p domain.BadgeAwardedPayload
		if json.Unmarshal(data, &p) == nil {
			badges <- p
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Disconnect)

	select {
	case socketID = <-confirmed:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection confirmation")
	}

	require.NoError(t, c.JoinRoom(domain.UserRoom("u1"), "u1"))
	waitMembership(t, hub, socketID, "user:u1", true)

	require.NoError(t, dispatch.BadgeAwarded(context.Background(), domain.BadgeAwardedPayload{
		UserID: "u1", BadgeName: "전문가", BadgeID: "b1", Timestamp: 1000,
	}))

	select {
	case got := <-badges:
		require.Equal(t, "b1", got.BadgeID)
		require.Equal(t, "전문가", got.BadgeName)
	case <-time.After(2 * time.Second):
		t.Fatal("badge event not delivered")
	}
}

func TestClientSDKOverPollingFallback(t *testing.T) {
	ts, hub, dispatch := newTestGateway(t, 1000)

	cfg := wsclient.DefaultConfig()
	cfg.URL = ts.URL
	cfg.Transports = []wsclient.Transport{wsclient.PollingTransport{}}
	c := wsclient.NewClient(cfg)

	confirmed := make(chan string, 1)
	c.On(domain.EventConnectionConfirmed, func(data json.RawMessage) {
		var p domain.ConnectionConfirmedPayload
		if json.Unmarshal(data, &p) == nil {
			confirmed <- p.SocketID
		}
	})
	adopted := make(chan domain.AnswerAdoptedPayload, 1)
	c.On(domain.EventAnswerAdopted, func(data json.RawMessage) {
		var p domain.AnswerAdoptedPayload
		if json.Unmarshal(data, &p) == nil {
			adopted <- p
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Disconnect)

	var socketID string
	select {
	case socketID = <-confirmed:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection confirmation over polling")
	}

	require.NoError(t, c.JoinRoom(domain.UserRoom("expert"), "expert"))
	waitMembership(t, hub, socketID, "user:expert", true)

	require.NoError(t, dispatch.AnswerAdopted(context.Background(), domain.AnswerAdoptedPayload{
		AnswerID: "a1", AdopterID: "asker", AdopteeID: "expert", QuestionID: "q1", Timestamp: 5000,
	}))

	select {
	case got := <-adopted:
		require.Equal(t, "a1", got.AnswerID)
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered over the polling fallback")
	}
}
