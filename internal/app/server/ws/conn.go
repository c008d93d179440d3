package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket wraps a gorilla connection with write deadlines and
// ping/pong keep-alive. A peer that misses the pong deadline is force
// closed by the failing read.
type WebSocket struct {
	*websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	writeTimeout time.Duration
	pingInterval time.Duration
	pongTimeout  time.Duration
}

func NewWebSocket(parent context.Context, conn *websocket.Conn, writeTimeout, pingInterval, pongTimeout time.Duration) *WebSocket {
	ctx, cancel := context.WithCancel(parent)
	w := &WebSocket{
		Conn:         conn,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	go w.pingLoop()
	return w
}

func (w *WebSocket) WriteMessage(data []byte) error {
	_ = w.Conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) pingLoop() {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			_ = w.Conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			if err := w.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.Close()
				return
			}
		}
	}
}

func (w *WebSocket) ReadLoop(onMsg func([]byte)) {
	defer w.Close()

	// 512KB max frame, protects against memory exhaustion
	w.Conn.SetReadLimit(512 * 1024)

	for {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("unexpected close", "err", err)
			}
			break
		}
		if len(data) > 0 {
			onMsg(data)
		}
	}
}

func (w *WebSocket) Close() {
	w.cancel()
	_ = w.Conn.Close()
}
