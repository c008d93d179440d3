package domain

import "encoding/json"

// Client -> server control events.
const (
	EventJoinRoom  = "join_room"
	EventLeaveRoom = "leave_room"
)

// Server -> client events.
const (
	EventConnectionConfirmed = "connection_confirmed"
	EventAnswerAdopted       = "answer_adopted"
	EventAnswerReaction      = "answer_reaction_updated"
	EventBadgeAwarded        = "badge_awarded"
	EventError               = "error"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a ready-to-send frame.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// JoinRoomPayload asks the gateway to add this connection to a room.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// LeaveRoomPayload removes this connection from a room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ConnectionConfirmedPayload is sent once immediately after accept.
type ConnectionConfirmedPayload struct {
	SocketID  string `json:"socketId"`
	Timestamp int64  `json:"timestamp"`
}

// AnswerAdoptedPayload notifies the adoptee their answer was accepted.
type AnswerAdoptedPayload struct {
	AnswerID   string `json:"answerId"`
	AdopterID  string `json:"adopterId"`
	AdopteeID  string `json:"adopteeId"`
	QuestionID string `json:"questionId"`
	Timestamp  int64  `json:"timestamp"`
}

// AnswerReactionPayload carries the authoritative like/dislike counts.
// Counts replace client state; they are never accumulated client-side.
type AnswerReactionPayload struct {
	AnswerID     string `json:"answerId"`
	LikeCount    int    `json:"likeCount"`
	DislikeCount int    `json:"dislikeCount"`
	Timestamp    int64  `json:"timestamp"`
}

// BadgeAwardedPayload notifies a user they earned a badge.
type BadgeAwardedPayload struct {
	UserID    string `json:"userId"`
	BadgeName string `json:"badgeName"`
	BadgeID   string `json:"badgeId"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload is a socket-safe error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
