package registry

import (
	"context"
	"log/slog"
	"sync"

	"pulsegate/internal/core/contracts"
)

// Registry is the in-process connection table and room index. All room
// bookkeeping lives here, keyed by socket id; clients never mutate
// membership directly.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]contracts.Client            // socket_id → client
	rooms   map[string]map[string]contracts.Client // room_id → socket_id → client
	joined  map[string]map[string]struct{}         // socket_id → set of room_ids
	log     *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		clients: make(map[string]contracts.Client),
		rooms:   make(map[string]map[string]contracts.Client),
		joined:  make(map[string]map[string]struct{}),
		log:     log,
	}
}

func (r *Registry) Register(c contracts.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Session().SocketID] = c
}

// Unregister removes the connection and implicitly leaves all its rooms.
func (r *Registry) Unregister(c contracts.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	socketID := c.Session().SocketID
	for roomID := range r.joined[socketID] {
		r.dropLocked(roomID, socketID)
	}
	delete(r.joined, socketID)
	delete(r.clients, socketID)
}

func (r *Registry) Join(roomID string, c contracts.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	socketID := c.Session().SocketID
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]contracts.Client)
	}
	r.rooms[roomID][socketID] = c
	if r.joined[socketID] == nil {
		r.joined[socketID] = make(map[string]struct{})
	}
	r.joined[socketID][roomID] = struct{}{}
	r.log.Debug("room joined", "room_id", roomID, "socket_id", socketID)
}

func (r *Registry) Leave(roomID string, c contracts.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	socketID := c.Session().SocketID
	r.dropLocked(roomID, socketID)
	if set := r.joined[socketID]; set != nil {
		delete(set, roomID)
	}
	r.log.Debug("room left", "room_id", roomID, "socket_id", socketID)
}

func (r *Registry) dropLocked(roomID, socketID string) {
	delete(r.rooms[roomID], socketID)
	if len(r.rooms[roomID]) == 0 {
		delete(r.rooms, roomID)
	}
}

// Rooms returns a snapshot of the rooms a connection has joined.
func (r *Registry) Rooms(socketID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.joined[socketID]))
	for roomID := range r.joined[socketID] {
		out = append(out, roomID)
	}
	return out
}

// Broadcast delivers to the membership as of this call; a session that
// joins afterwards does not retroactively receive it.
func (r *Registry) Broadcast(ctx context.Context, roomID string, data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.rooms[roomID] {
		if err := c.Send(ctx, data); err != nil {
			r.log.Warn("broadcast send failed", "room_id", roomID,
				"socket_id", c.Session().SocketID, "err", err)
		}
	}
}

func (r *Registry) Send(ctx context.Context, socketID string, data []byte) {
	r.mu.RLock()
	c := r.clients[socketID]
	r.mu.RUnlock()
	if c == nil {
		return
	}
	_ = c.Send(ctx, data)
}
