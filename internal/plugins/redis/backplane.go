package redis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"pulsegate/internal/core/contracts"

	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "room:"

// Backplane fans room broadcasts out across gateway processes over Redis
// pub/sub. Every process publishes to "room:{id}" and pattern-subscribes
// to "room:*"; local delivery always happens on the subscriber path, so
// the publisher does not also deliver directly (that would double-send).
//
// Delivery is best-effort at-most-once: messages published while the
// subscription is re-establishing are lost, matching the no-replay
// contract of the gateway.
type Backplane struct {
	rdb      *redis.Client
	registry contracts.Registry
	log      *slog.Logger
}

func NewBackplane(log *slog.Logger, rdb *redis.Client, registry contracts.Registry) *Backplane {
	return &Backplane{
		rdb:      rdb,
		registry: registry,
		log:      log,
	}
}

func (b *Backplane) Publish(ctx context.Context, roomID string, data []byte) error {
	return b.rdb.Publish(ctx, roomChannelPrefix+roomID, data).Err()
}

// Run consumes backplane messages until ctx is done, resubscribing on error.
func (b *Backplane) Run(ctx context.Context) error {
	for {
		if err := b.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("backplane subscription lost, resubscribing", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (b *Backplane) consume(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			roomID := strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			b.registry.Broadcast(ctx, roomID, []byte(msg.Payload))
		}
	}
}

func (b *Backplane) Close() error {
	return b.rdb.Close()
}
