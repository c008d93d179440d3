package wsclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pulsegate/internal/core/domain"
)

// Handler receives the raw payload of one delivered event.
type Handler = func(data json.RawMessage)

// Config controls how the client connects and recovers.
type Config struct {
	URL   string
	Token string
	// Transports in preference order; Connect keeps the first that dials.
	Transports           []Transport
	DialTimeout          time.Duration
	Reconnection         bool
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Transports:           []Transport{WebSocketTransport{}, PollingTransport{}},
		DialTimeout:          10 * time.Second,
		Reconnection:         true,
		ReconnectionAttempts: 5,
		ReconnectionDelay:    time.Second,
	}
}

type listener struct {
	id int64
	fn Handler
}

// Client owns exactly one logical connection to the gateway. Its listener
// registry outlives any individual transport session: dispatch always
// consults the registry, so handlers registered once keep firing across
// any number of reconnects. Network failures surface as state, never as
// panics; Emit against a disconnected client is a logged drop.
type Client struct {
	cfg Config
	log *slog.Logger

	mu                sync.Mutex
	status            Status
	reconnectAttempts int
	lastConnected     time.Time
	lastErr           error
	conn              Conn
	gen               int // connection generation, stale read loops no-op
	runCancel         context.CancelFunc

	listeners map[string][]listener
	nextID    int64

	observers map[int64]func(State)
	nextObsID int64
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:       cfg,
		log:       slog.Default(),
		status:    StatusDisconnected,
		listeners: make(map[string][]listener),
		observers: make(map[int64]func(State)),
	}
}

// SetLogger overrides the default logger.
func (c *Client) SetLogger(log *slog.Logger) {
	if log != nil {
		c.log = log
	}
}

// State returns a snapshot of the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Client) stateLocked() State {
	return State{
		Status:            c.status,
		IsConnected:       c.status == StatusConnected,
		ReconnectAttempts: c.reconnectAttempts,
		LastConnected:     c.lastConnected,
		Err:               c.lastErr,
	}
}

// OnStatusChange subscribes an observer to every status transition and
// returns its unsubscribe func. Any number of independent observers may
// watch the same client.
func (c *Client) OnStatusChange(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// setStatus transitions the state machine and notifies observers outside
// the lock. Leaving StatusError clears the recorded failure.
func (c *Client) setStatus(status Status, err error) {
	c.mu.Lock()
	if c.status == StatusError && status != StatusError {
		c.lastErr = nil
	}
	c.status = status
	if err != nil {
		c.lastErr = err
	}
	if status == StatusConnected {
		c.lastConnected = time.Now()
		c.reconnectAttempts = 0
	}
	snapshot := c.stateLocked()
	obs := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		obs = append(obs, fn)
	}
	c.mu.Unlock()
	for _, fn := range obs {
		fn(snapshot)
	}
}

// Connect opens the transport. A failure is recorded as StatusError with
// the reason and also returned; connecting while connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setStatus(StatusConnecting, nil)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setStatus(StatusError, err)
		return err
	}
	c.attach(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	var lastErr error
	for _, t := range c.cfg.Transports {
		conn, err := t.Dial(ctx, c.cfg.URL, header)
		if err == nil {
			c.log.Debug("transport negotiated", "transport", t.Name())
			return conn, nil
		}
		c.log.Warn("transport dial failed", "transport", t.Name(), "err", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errNoTransports
	}
	return nil, lastErr
}

// attach installs the new session and starts its read loop. Dispatch
// reads the live listener registry, which is how every registered handler
// is carried onto the new session.
func (c *Client) attach(conn Conn) {
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen
	c.runCancel = cancel
	c.mu.Unlock()

	c.setStatus(StatusConnected, nil)
	go c.readLoop(runCtx, conn, gen)
}

func (c *Client) readLoop(ctx context.Context, conn Conn, gen int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return // user-initiated teardown
			}
			c.handleDrop(gen, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("malformed frame", "err", err)
		return
	}
	c.mu.Lock()
	entries := make([]listener, len(c.listeners[env.Event]))
	copy(entries, c.listeners[env.Event])
	c.mu.Unlock()
	for _, l := range entries {
		l.fn(env.Data)
	}
}

// handleDrop reacts to an unexpected transport loss: retry with backoff
// up to the attempt ceiling when reconnection is enabled, otherwise rest
// at disconnected.
func (c *Client) handleDrop(gen int, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	if !c.cfg.Reconnection || c.cfg.ReconnectionAttempts <= 0 {
		c.log.Warn("connection lost", "err", cause)
		c.setStatus(StatusDisconnected, nil)
		return
	}
	c.log.Warn("connection lost, reconnecting", "err", cause)
	go c.reconnect(gen)
}

func (c *Client) reconnect(gen int) {
	for attempt := 1; attempt <= c.cfg.ReconnectionAttempts; attempt++ {
		c.mu.Lock()
		if gen != c.gen {
			// a newer session exists or the user disconnected
			c.mu.Unlock()
			return
		}
		if c.status == StatusDisconnected {
			c.mu.Unlock()
			return
		}
		c.reconnectAttempts = attempt
		c.mu.Unlock()
		c.setStatus(StatusReconnecting, nil)

		time.Sleep(c.cfg.ReconnectionDelay * time.Duration(attempt))

		c.mu.Lock()
		if gen != c.gen || c.status == StatusDisconnected {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, err := c.dial(context.Background())
		if err != nil {
			c.log.Warn("reconnect attempt failed", "attempt", attempt, "err", err)
			continue
		}
		c.mu.Lock()
		stale := gen != c.gen || c.status == StatusDisconnected
		c.mu.Unlock()
		if stale {
			_ = conn.Close()
			return
		}
		c.attach(conn)
		return
	}
	c.mu.Lock()
	if gen != c.gen || c.status == StatusDisconnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.setStatus(StatusError, errReconnectExhausted)
}

// Disconnect tears the transport down and resets the retry counter.
// Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++ // invalidates in-flight read loops and reconnect loops
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
	c.reconnectAttempts = 0
	alreadyDown := c.status == StatusDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !alreadyDown {
		c.setStatus(StatusDisconnected, nil)
	}
}

// Emit sends an event to the gateway. While not connected the event is
// dropped with a warning; callers needing guaranteed delivery retry above
// this layer. The only error returned is a payload marshalling failure.
func (c *Client) Emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		c.log.Warn("emit dropped, not connected", "event", event)
		return nil
	}
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(data); err != nil {
		c.log.Warn("emit write failed", "event", event, "err", err)
	}
	return nil
}

// On registers a handler for an event and returns its registration id.
func (c *Client) On(event string, fn Handler) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[event] = append(c.listeners[event], listener{id: id, fn: fn})
	return id
}

// Off removes specific registrations by id, or every handler for the
// event when no ids are given.
func (c *Client) Off(event string, ids ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) == 0 {
		delete(c.listeners, event)
		return
	}
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := c.listeners[event][:0]
	for _, l := range c.listeners[event] {
		if _, gone := drop[l.id]; !gone {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(c.listeners, event)
		return
	}
	c.listeners[event] = kept
}

// JoinRoom asks the gateway to add this connection to a room. Membership
// bookkeeping lives server-side.
func (c *Client) JoinRoom(roomID, userID string) error {
	return c.Emit(domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: roomID, UserID: userID})
}

// LeaveRoom removes this connection from a room.
func (c *Client) LeaveRoom(roomID, userID string) error {
	return c.Emit(domain.EventLeaveRoom, domain.LeaveRoomPayload{RoomID: roomID, UserID: userID})
}
