package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pulsegate/internal/core/domain"

	"github.com/gorilla/websocket"
)

// Conn is one established transport session. Handler registrations do
// not survive it; the client re-drives its own registry on every new Conn.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Transport negotiation: the client walks its configured transports in
// preference order and keeps the first that dials successfully.
type Transport interface {
	Name() string
	Dial(ctx context.Context, baseURL string, header http.Header) (Conn, error)
}

// WebSocketTransport is the preferred persistent bidirectional channel.
type WebSocketTransport struct{}

func (WebSocketTransport) Name() string { return "websocket" }

func (WebSocketTransport) Dial(ctx context.Context, baseURL string, header http.Header) (Conn, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// PollingTransport is the request/response fallback over the gateway's
// /poll endpoints.
type PollingTransport struct {
	HTTPClient *http.Client
}

func (PollingTransport) Name() string { return "polling" }

func (t PollingTransport) Dial(ctx context.Context, baseURL string, header http.Header) (Conn, error) {
	httpClient := t.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimSuffix(baseURL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/poll", nil)
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll connect: status %d", resp.StatusCode)
	}
	var env domain.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	var confirmed domain.ConnectionConfirmedPayload
	if err := json.Unmarshal(env.Data, &confirmed); err != nil {
		return nil, err
	}
	if confirmed.SocketID == "" {
		return nil, errors.New("poll connect: missing socket id")
	}

	conn := &pollConn{
		httpClient: httpClient,
		base:       base,
		sessionID:  confirmed.SocketID,
		header:     header.Clone(),
		closed:     make(chan struct{}),
	}
	// the session's first frame is the confirmation the ws path also sends
	raw, _ := json.Marshal(env)
	conn.queue = append(conn.queue, raw)
	return conn, nil
}

type pollConn struct {
	httpClient *http.Client
	base       string
	sessionID  string
	header     http.Header
	queue      [][]byte
	closed     chan struct{}
}

func (c *pollConn) ReadMessage() ([]byte, error) {
	for {
		select {
		case <-c.closed:
			return nil, errors.New("polling session closed")
		default:
		}
		if len(c.queue) > 0 {
			data := c.queue[0]
			c.queue = c.queue[1:]
			return data, nil
		}
		req, err := http.NewRequest(http.MethodGet, c.base+"/poll/events?session="+url.QueryEscape(c.sessionID), nil)
		if err != nil {
			return nil, err
		}
		req.Header = c.header.Clone()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("poll events: status %d", resp.StatusCode)
		}
		var frames []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&frames)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}
		for _, f := range frames {
			c.queue = append(c.queue, []byte(f))
		}
	}
}

func (c *pollConn) WriteMessage(data []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.base+"/poll/emit?session="+url.QueryEscape(c.sessionID), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header = c.header.Clone()
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("poll emit: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *pollConn) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	req, err := http.NewRequest(http.MethodDelete, c.base+"/poll?session="+url.QueryEscape(c.sessionID), nil)
	if err != nil {
		return err
	}
	req.Header = c.header.Clone()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
