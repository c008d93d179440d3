package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"pulsegate/internal/app/server/ws"
	"pulsegate/internal/config"
	"pulsegate/internal/core/contracts"
	"pulsegate/internal/core/domain"
	"pulsegate/pkg/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WSHandler struct {
	hub      contracts.Registry
	limiter  *middleware.RateLimiter
	upgrader websocket.Upgrader
	cfg      config.GatewayConfig
}

func NewWSHandler(hub contracts.Registry, limiter *middleware.RateLimiter, cfg config.GatewayConfig, devMode bool) *WSHandler {
	return &WSHandler{
		hub:     hub,
		limiter: limiter,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins, devMode),
		},
	}
}

// originChecker restricts the handshake to the configured allow-list.
// Development mode and same-origin requests (no Origin header) pass.
func originChecker(allowed []string, devMode bool) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if devMode {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if origin == a {
				return true
			}
		}
		return false
	}
}

func (h *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := middleware.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())

	principalID, ok := r.Context().Value(middleware.UserIDKey).(string)
	if !ok {
		log.ErrorContext(r.Context(), "ws handler - unauthorised missing principal")
		http.Error(w, "Unauthorized: principal missing", http.StatusUnauthorized)
		return
	}
	displayName, _ := r.Context().Value(middleware.DisplayNameKey).(string)
	guest, _ := r.Context().Value(middleware.GuestKey).(bool)
	span.SetAttributes(attribute.String("principal.id", principalID))

	sessionCtx := context.WithoutCancel(r.Context())
	ctx, cancel := context.WithCancel(sessionCtx)
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade failed", "err", err)
		return
	}
	conn.SetCloseHandler(func(code int, text string) error {
		log.Info("ws handler - socket closed", "principal_id", principalID)
		cancel()
		return nil
	})

	socket := ws.NewWebSocket(ctx, conn, h.cfg.WriteTimeout, h.cfg.PingInterval, h.cfg.PongTimeout)
	session := domain.NewSession(principalID, displayName, guest)
	client := ws.NewClient(ctx, socket, session)
	// teardown must run on every exit, including abnormal reads: a TCP
	// drop or pong timeout ends ReadLoop without a close frame, and the
	// write goroutine must not outlive the handler
	defer client.Close()

	h.hub.Register(client)
	defer h.hub.Unregister(client)
	span.SetAttributes(attribute.String("socket.id", session.SocketID))
	log.InfoContext(r.Context(), "ws handler - connection established",
		"socket_id", session.SocketID, "principal_id", principalID, "guest", guest)

	confirmed, _ := domain.NewEnvelope(domain.EventConnectionConfirmed, domain.ConnectionConfirmedPayload{
		SocketID:  session.SocketID,
		Timestamp: time.Now().UnixMilli(),
	})
	if data, err := confirmed.Encode(); err == nil {
		h.hub.Send(ctx, session.SocketID, data)
	}

	addr := remoteHost(r)
	socket.ReadLoop(func(data []byte) {
		session.Touch()
		h.handleInbound(ctx, client, addr, data)
	})
}

func (h *WSHandler) handleInbound(ctx context.Context, client contracts.Client, addr string, data []byte) {
	log := middleware.FromContext(ctx)

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn("ws handler - malformed frame", "err", err)
		return
	}

	if !h.limiter.Allow(addr) {
		h.sendError(ctx, client, "rate_limited", domain.ErrRateLimited.Error())
		log.Warn("ws handler - event rate limited", "event", env.Event, "remote", addr)
		return
	}

	_ = middleware.InstrumentEvent(log, env.Event, string(env.Data), func() error {
		switch env.Event {
		case domain.EventJoinRoom:
			var p domain.JoinRoomPayload
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return err
			}
			h.hub.Join(p.RoomID, client)
		case domain.EventLeaveRoom:
			var p domain.LeaveRoomPayload
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return err
			}
			h.hub.Leave(p.RoomID, client)
		default:
			return domain.ErrInvalidEvent
		}
		return nil
	})
}

func (h *WSHandler) sendError(ctx context.Context, client contracts.Client, code, msg string) {
	env, err := domain.NewEnvelope(domain.EventError, domain.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	if data, err := env.Encode(); err == nil {
		_ = client.Send(ctx, data)
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
