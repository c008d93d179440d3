package contracts

import (
	"context"

	"pulsegate/internal/core/domain"
)

// Registry is the per-process connection table. It owns room membership:
// joins and leaves go through it, and a broadcast reaches exactly the
// connections whose membership contains the room at the moment of the call.
type Registry interface {
	// Register adds a freshly admitted connection to the local table.
	Register(c Client)
	// Unregister removes the connection and its room memberships.
	Unregister(c Client)
	// Join adds the connection to a room.
	Join(roomID string, c Client)
	// Leave removes the connection from a room.
	Leave(roomID string, c Client)
	// Broadcast delivers data to every current member of the room.
	Broadcast(ctx context.Context, roomID string, data []byte)
	// Send targets one local connection by socket id.
	Send(ctx context.Context, socketID string, data []byte)
}

// Client is the minimal surface the registry needs to deliver to a
// single connection, regardless of transport (websocket or long-poll).
type Client interface {
	Session() *domain.Session
	Send(ctx context.Context, data []byte) error
	Close()
}
