package services

import (
	"context"
	"log/slog"

	"pulsegate/internal/core/contracts"
	"pulsegate/internal/core/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("dispatch-service")

// DispatchService turns business facts from the REST API into typed
// server->client events and broadcasts them to the target room. When a
// backplane is attached it publishes there and local delivery happens on
// the subscriber path, so single-process and multi-process deployments
// behave identically to callers.
type DispatchService struct {
	registry  contracts.Registry
	backplane contracts.Backplane // nil in single-process mode
	log       *slog.Logger
}

func NewDispatchService(log *slog.Logger, registry contracts.Registry, backplane contracts.Backplane) *DispatchService {
	return &DispatchService{
		registry:  registry,
		backplane: backplane,
		log:       log,
	}
}

// AnswerAdopted notifies the answer author through their user room.
func (d *DispatchService) AnswerAdopted(ctx context.Context, p domain.AnswerAdoptedPayload) error {
	return d.broadcast(ctx, domain.UserRoom(p.AdopteeID), domain.EventAnswerAdopted, p)
}

// ReactionUpdated pushes authoritative counts to everyone viewing the
// question the answer belongs to.
func (d *DispatchService) ReactionUpdated(ctx context.Context, questionID string, p domain.AnswerReactionPayload) error {
	return d.broadcast(ctx, domain.QuestionRoom(questionID), domain.EventAnswerReaction, p)
}

// BadgeAwarded notifies the recipient through their user room.
func (d *DispatchService) BadgeAwarded(ctx context.Context, p domain.BadgeAwardedPayload) error {
	return d.broadcast(ctx, domain.UserRoom(p.UserID), domain.EventBadgeAwarded, p)
}

// Broadcast sends an already-typed event to an explicit room.
func (d *DispatchService) Broadcast(ctx context.Context, roomID, event string, payload any) error {
	return d.broadcast(ctx, roomID, event, payload)
}

func (d *DispatchService) broadcast(ctx context.Context, roomID, event string, payload any) error {
	ctx, span := tracer.Start(ctx, "dispatch.broadcast")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.name", event),
		attribute.String("room.id", roomID),
	)

	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}

	if d.backplane != nil {
		if err := d.backplane.Publish(ctx, roomID, data); err == nil {
			return nil
		} else {
			// degraded path: deliver locally rather than lose the event
			d.log.Warn("backplane publish failed, local delivery only",
				"room_id", roomID, "event", event, "err", err)
		}
	}
	d.registry.Broadcast(ctx, roomID, data)
	return nil
}
