package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pulsegate/internal/core/domain"
)

// maxNotifications is a hard memory bound on the retained log, not a UX
// choice about history depth.
const maxNotifications = 50

// DefaultToastDuration is how long a toast stays before auto-clearing.
const DefaultToastDuration = 5 * time.Second

type NotificationType string

const (
	TypeAccepted NotificationType = "accepted"
	TypeReaction NotificationType = "reaction"
	TypeBadge    NotificationType = "badge"
)

// Notification is one entry of the bounded, newest-first log. ID doubles
// as the de-duplication key.
type Notification struct {
	ID         string
	Type       NotificationType
	AnswerID   string
	QuestionID string
	BadgeID    string
	BadgeName  string
	Timestamp  int64
}

// Toast is the single pending ephemeral notification. A new qualifying
// event replaces the prior toast, it never queues behind it.
type Toast struct {
	Severity string
	Message  string
}

// ReactionCounts mirrors the server's authoritative counts for one answer.
type ReactionCounts struct {
	LikeCount    int
	DislikeCount int
}

// Subscriber is the slice of the connection client the aggregator needs.
type Subscriber interface {
	On(event string, fn func(data json.RawMessage)) int64
	Off(event string, ids ...int64)
}

// Center folds raw gateway events into bounded UI-consumable state: a
// newest-first log capped at 50 records, one toast slot, and a per-answer
// reaction counter map that overwrites rather than accumulates.
type Center struct {
	log           *slog.Logger
	toastDuration time.Duration

	mu            sync.Mutex
	notifications []Notification
	toast         *Toast
	reactions     map[string]ReactionCounts
	toastTimer    *time.Timer
	toastGen      uint64

	bound *binding
}

type binding struct {
	sub Subscriber
	ids map[string][]int64
}

func NewCenter(log *slog.Logger) *Center {
	return &Center{
		log:           log,
		toastDuration: DefaultToastDuration,
		reactions:     make(map[string]ReactionCounts),
	}
}

// SetToastDuration overrides the auto-clear delay. Zero disables the timer.
func (c *Center) SetToastDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toastDuration = d
}

// Bind registers the business-event handlers on the connection client.
// The client's registry survives reconnects, so binding once is enough
// for the life of the client. Calling Bind twice unbinds the first.
func (c *Center) Bind(sub Subscriber) {
	c.Unbind()
	b := &binding{sub: sub, ids: make(map[string][]int64)}
	b.ids[domain.EventAnswerAdopted] = []int64{
		sub.On(domain.EventAnswerAdopted, c.onAnswerAdopted),
	}
	b.ids[domain.EventAnswerReaction] = []int64{
		sub.On(domain.EventAnswerReaction, c.onReactionUpdated),
	}
	b.ids[domain.EventBadgeAwarded] = []int64{
		sub.On(domain.EventBadgeAwarded, c.onBadgeAwarded),
	}
	c.mu.Lock()
	c.bound = b
	c.mu.Unlock()
}

// Unbind removes the registered handlers. Idempotent.
func (c *Center) Unbind() {
	c.mu.Lock()
	b := c.bound
	c.bound = nil
	c.mu.Unlock()
	if b == nil {
		return
	}
	for event, ids := range b.ids {
		b.sub.Off(event, ids...)
	}
}

func (c *Center) onAnswerAdopted(data json.RawMessage) {
	var p domain.AnswerAdoptedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Warn("answer adopted payload malformed", "err", err)
		return
	}
	c.mu.Lock()
	c.prependLocked(Notification{
		ID:         fmt.Sprintf("accepted-%s-%d", p.AnswerID, p.Timestamp),
		Type:       TypeAccepted,
		AnswerID:   p.AnswerID,
		QuestionID: p.QuestionID,
		Timestamp:  p.Timestamp,
	})
	c.setToastLocked(&Toast{Severity: "success", Message: "Your answer was accepted!"})
	c.mu.Unlock()
}

// onReactionUpdated overwrites the counter entry and deliberately touches
// neither the log nor the toast: reaction updates are high-frequency and
// would spam the UI.
func (c *Center) onReactionUpdated(data json.RawMessage) {
	var p domain.AnswerReactionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Warn("reaction payload malformed", "err", err)
		return
	}
	c.mu.Lock()
	c.reactions[p.AnswerID] = ReactionCounts{
		LikeCount:    p.LikeCount,
		DislikeCount: p.DislikeCount,
	}
	c.mu.Unlock()
}

func (c *Center) onBadgeAwarded(data json.RawMessage) {
	var p domain.BadgeAwardedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Warn("badge payload malformed", "err", err)
		return
	}
	c.mu.Lock()
	c.prependLocked(Notification{
		ID:        fmt.Sprintf("badge-%s-%d", p.BadgeID, p.Timestamp),
		Type:      TypeBadge,
		BadgeID:   p.BadgeID,
		BadgeName: p.BadgeName,
		Timestamp: p.Timestamp,
	})
	c.setToastLocked(&Toast{Severity: "success", Message: fmt.Sprintf("You earned the %q badge!", p.BadgeName)})
	c.mu.Unlock()
}

func (c *Center) prependLocked(n Notification) {
	c.notifications = append([]Notification{n}, c.notifications...)
	if len(c.notifications) > maxNotifications {
		c.notifications = c.notifications[:maxNotifications]
	}
}

func (c *Center) setToastLocked(t *Toast) {
	c.toast = t
	// the generation pins each timer to the toast it was armed for; a
	// stopped timer whose callback already fired and is waiting on the
	// lock must not clear a replacement toast
	c.toastGen++
	if c.toastTimer != nil {
		c.toastTimer.Stop()
		c.toastTimer = nil
	}
	if c.toastDuration > 0 {
		gen := c.toastGen
		c.toastTimer = time.AfterFunc(c.toastDuration, func() { c.expireToast(gen) })
	}
}

func (c *Center) expireToast(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.toastGen {
		return
	}
	c.clearToastLocked()
}

// Notifications returns the log, newest first.
func (c *Center) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.notifications))
	copy(out, c.notifications)
	return out
}

// Toast returns the pending toast, nil when none.
func (c *Center) Toast() *Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.toast == nil {
		return nil
	}
	t := *c.toast
	return &t
}

// Reactions returns the live counts for an answer.
func (c *Center) Reactions(answerID string) (ReactionCounts, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts, ok := c.reactions[answerID]
	return counts, ok
}

// ClearNotifications empties the log and the toast slot.
func (c *Center) ClearNotifications() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = nil
	c.clearToastLocked()
}

// ClearToast clears only the toast, preserving the log.
func (c *Center) ClearToast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearToastLocked()
}

func (c *Center) clearToastLocked() {
	c.toast = nil
	if c.toastTimer != nil {
		c.toastTimer.Stop()
		c.toastTimer = nil
	}
}
