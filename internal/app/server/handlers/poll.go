package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"pulsegate/internal/config"
	"pulsegate/internal/core/contracts"
	"pulsegate/internal/core/domain"
	"pulsegate/pkg/middleware"
)

// PollHandler is the request/response fallback for clients that cannot
// hold a websocket. Sessions register in the same hub as socket clients,
// so broadcasts and room semantics are identical; only delivery differs
// (frames queue until the next long poll). A session that stops polling
// for the pong timeout is reaped, mirroring dead-peer detection.
type PollHandler struct {
	hub     contracts.Registry
	limiter *middleware.RateLimiter
	cfg     config.GatewayConfig

	mu       sync.Mutex
	sessions map[string]*pollClient
}

func NewPollHandler(hub contracts.Registry, limiter *middleware.RateLimiter, cfg config.GatewayConfig) *PollHandler {
	return &PollHandler{
		hub:      hub,
		limiter:  limiter,
		cfg:      cfg,
		sessions: make(map[string]*pollClient),
	}
}

type pollClient struct {
	session *domain.Session
	out     chan []byte
	done    chan struct{}
	once    sync.Once
	expiry  *time.Timer
}

func (c *pollClient) Session() *domain.Session { return c.session }

func (c *pollClient) Send(ctx context.Context, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.done:
		return domain.ErrClientClosed
	default:
		// slow poller, drop rather than block the broadcast path
		return nil
	}
}

func (c *pollClient) Close() {
	c.once.Do(func() {
		c.expiry.Stop()
		close(c.done)
	})
}

// Connect admits a polling session and returns connection_confirmed.
func (h *PollHandler) Connect(w http.ResponseWriter, r *http.Request) {
	log := middleware.FromContext(r.Context())
	principalID, ok := r.Context().Value(middleware.UserIDKey).(string)
	if !ok {
		http.Error(w, "Unauthorized: principal missing", http.StatusUnauthorized)
		return
	}
	displayName, _ := r.Context().Value(middleware.DisplayNameKey).(string)
	guest, _ := r.Context().Value(middleware.GuestKey).(bool)

	session := domain.NewSession(principalID, displayName, guest)
	client := &pollClient{
		session: session,
		out:     make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	client.expiry = time.AfterFunc(h.cfg.PongTimeout, func() {
		h.drop(session.SocketID)
	})

	h.mu.Lock()
	h.sessions[session.SocketID] = client
	h.mu.Unlock()
	h.hub.Register(client)

	log.InfoContext(r.Context(), "poll handler - session established",
		"socket_id", session.SocketID, "principal_id", principalID)

	env, _ := domain.NewEnvelope(domain.EventConnectionConfirmed, domain.ConnectionConfirmedPayload{
		SocketID:  session.SocketID,
		Timestamp: time.Now().UnixMilli(),
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

// Events drains queued frames, blocking up to PollWait for the first one.
func (h *PollHandler) Events(w http.ResponseWriter, r *http.Request) {
	client := h.lookup(r)
	if client == nil {
		http.Error(w, domain.ErrUnknownSession.Error(), http.StatusNotFound)
		return
	}
	client.session.Touch()
	client.expiry.Reset(h.cfg.PongTimeout)

	frames := make([]json.RawMessage, 0, 8)
	select {
	case data := <-client.out:
		frames = append(frames, data)
	case <-client.done:
	case <-r.Context().Done():
	case <-time.After(h.cfg.PollWait):
	}
	// drain whatever else queued, without blocking again
	for {
		select {
		case data := <-client.out:
			frames = append(frames, data)
			continue
		default:
		}
		break
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(frames)
}

// Emit accepts one inbound envelope (control events only).
func (h *PollHandler) Emit(w http.ResponseWriter, r *http.Request) {
	log := middleware.FromContext(r.Context())
	client := h.lookup(r)
	if client == nil {
		http.Error(w, domain.ErrUnknownSession.Error(), http.StatusNotFound)
		return
	}
	if !h.limiter.Allow(remoteHost(r)) {
		http.Error(w, domain.ErrRateLimited.Error(), http.StatusTooManyRequests)
		return
	}
	client.session.Touch()

	var env domain.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "invalid envelope", http.StatusBadRequest)
		return
	}
	err := middleware.InstrumentEvent(log, env.Event, string(env.Data), func() error {
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
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Disconnect tears the polling session down.
func (h *PollHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	client := h.lookup(r)
	if client == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.drop(client.session.SocketID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *PollHandler) lookup(r *http.Request) *pollClient {
	id := r.URL.Query().Get("session")
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

func (h *PollHandler) drop(socketID string) {
	h.mu.Lock()
	client := h.sessions[socketID]
	delete(h.sessions, socketID)
	h.mu.Unlock()
	if client != nil {
		h.hub.Unregister(client)
		client.Close()
	}
}
