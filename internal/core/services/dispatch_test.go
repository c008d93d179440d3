package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"pulsegate/internal/core/contracts"
	"pulsegate/internal/core/domain"

	"github.com/stretchr/testify/require"
)

type captureRegistry struct {
	mu     sync.Mutex
	rooms  []string
	frames [][]byte
}

func (r *captureRegistry) Register(contracts.Client)            {}
func (r *captureRegistry) Unregister(contracts.Client)          {}
func (r *captureRegistry) Join(string, contracts.Client)        {}
func (r *captureRegistry) Leave(string, contracts.Client)       {}
func (r *captureRegistry) Send(context.Context, string, []byte) {}

func (r *captureRegistry) Broadcast(_ context.Context, roomID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, roomID)
	r.frames = append(r.frames, data)
}

type captureBackplane struct {
	mu     sync.Mutex
	rooms  []string
	frames [][]byte
	fail   bool
}

func (b *captureBackplane) Publish(_ context.Context, roomID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("backplane down")
	}
	b.rooms = append(b.rooms, roomID)
	b.frames = append(b.frames, data)
	return nil
}

func (b *captureBackplane) Run(context.Context) error { return nil }
func (b *captureBackplane) Close() error              { return nil }

func decodeFrame(t *testing.T, data []byte) domain.Envelope {
	t.Helper()
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestAnswerAdoptedTargetsAdopteeUserRoom(t *testing.T) {
	hub := &captureRegistry{}
	d := NewDispatchService(slog.Default(), hub, nil)

	err := d.AnswerAdopted(context.Background(), domain.AnswerAdoptedPayload{
		AnswerID: "a1", AdopterID: "asker", AdopteeID: "expert", QuestionID: "q1", Timestamp: 7,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"user:expert"}, hub.rooms)
	env := decodeFrame(t, hub.frames[0])
	require.Equal(t, domain.EventAnswerAdopted, env.Event)
}

func TestReactionTargetsQuestionRoom(t *testing.T) {
	hub := &captureRegistry{}
	d := NewDispatchService(slog.Default(), hub, nil)

	err := d.ReactionUpdated(context.Background(), "q9", domain.AnswerReactionPayload{
		AnswerID: "a1", LikeCount: 1, Timestamp: 7,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"question:q9"}, hub.rooms)
	require.Equal(t, domain.EventAnswerReaction, decodeFrame(t, hub.frames[0]).Event)
}

func TestBadgeTargetsRecipientUserRoom(t *testing.T) {
	hub := &captureRegistry{}
	d := NewDispatchService(slog.Default(), hub, nil)

	err := d.BadgeAwarded(context.Background(), domain.BadgeAwardedPayload{
		UserID: "u1", BadgeName: "전문가", BadgeID: "b1", Timestamp: 1000,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"user:u1"}, hub.rooms)
}

func TestBackplanePublishSkipsLocalDelivery(t *testing.T) {
	hub := &captureRegistry{}
	bp := &captureBackplane{}
	d := NewDispatchService(slog.Default(), hub, bp)

	require.NoError(t, d.Broadcast(context.Background(), "room", "ev", map[string]int{"x": 1}))

	require.Equal(t, []string{"room"}, bp.rooms, "published once to the backplane")
	require.Empty(t, hub.rooms, "local fan-out happens on the subscriber path, not twice")
}

func TestBackplaneFailureDegradesToLocal(t *testing.T) {
	hub := &captureRegistry{}
	bp := &captureBackplane{fail: true}
	d := NewDispatchService(slog.Default(), hub, bp)

	require.NoError(t, d.Broadcast(context.Background(), "room", "ev", map[string]int{"x": 1}))

	require.Equal(t, []string{"room"}, hub.rooms, "event delivered locally instead of lost")
}
