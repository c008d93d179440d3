package ws

import (
	"context"
	"sync"

	"pulsegate/internal/core/domain"
)

// RuntimeClient decouples registry broadcasts from the socket write path
// with a buffered outbound channel and a single writer goroutine.
type RuntimeClient struct {
	ctx     context.Context
	cancel  context.CancelFunc
	ws      *WebSocket
	session *domain.Session
	out     chan []byte
	once    sync.Once
}

func NewClient(parent context.Context, ws *WebSocket, session *domain.Session) *RuntimeClient {
	ctx, cancel := context.WithCancel(parent)
	c := &RuntimeClient{
		ctx:     ctx,
		cancel:  cancel,
		ws:      ws,
		session: session,
		out:     make(chan []byte, 256),
	}
	go c.writeLoop()
	return c
}

func (c *RuntimeClient) Session() *domain.Session { return c.session }

func (c *RuntimeClient) Send(ctx context.Context, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return domain.ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *RuntimeClient) Close() {
	c.once.Do(func() {
		c.cancel()
		close(c.out)
		c.ws.Close()
	})
}

func (c *RuntimeClient) writeLoop() {
	defer c.Close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data, ok := <-c.out:
			if !ok {
				return
			}
			_ = c.ws.WriteMessage(data)
		}
	}
}
