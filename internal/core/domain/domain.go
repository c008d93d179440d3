package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is the per-connection state attached after the auth middleware
// admits a connection. Rooms is owned by the registry; nothing else may
// mutate it directly.
type Session struct {
	SocketID     string
	PrincipalID  string
	DisplayName  string
	Guest        bool
	ConnectedAt  time.Time
	LastActivity time.Time
}

// NewSession assigns a fresh socket id for an admitted principal.
func NewSession(principalID, displayName string, guest bool) *Session {
	now := time.Now()
	return &Session{
		SocketID:     uuid.NewString(),
		PrincipalID:  principalID,
		DisplayName:  displayName,
		Guest:        guest,
		ConnectedAt:  now,
		LastActivity: now,
	}
}

func (s *Session) Touch() {
	s.LastActivity = time.Now()
}

// NewGuestID mints a principal id for permissive development mode.
func NewGuestID() string {
	return "guest-" + uuid.NewString()[:8]
}

// UserRoom is the per-user room that adoption and badge events target.
func UserRoom(userID string) string {
	return "user:" + userID
}

// QuestionRoom is the room every viewer of a question joins to receive
// live reaction counts.
func QuestionRoom(questionID string) string {
	return "question:" + questionID
}
