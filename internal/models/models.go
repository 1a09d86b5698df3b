package models

import (
	"time"

	"github.com/google/uuid"
)

type RoomKind string

const (
	RoomKindDirect    RoomKind = "direct"
	RoomKindGroup     RoomKind = "group"
	RoomKindAssistant RoomKind = "assistant"
)

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
)

// Identity is the verified user behind a connection or a job invocation.
// Immutable once extracted from a credential.
type Identity struct {
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatRoom struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	Kind          RoomKind  `json:"kind"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is a single entry in a room's append-only log. The body is
// immutable after insert; only the Deleted flag may change.
type Message struct {
	UUID       uuid.UUID   `json:"uuid"`
	RoomID     uuid.UUID   `json:"room_id"`
	AuthorID   *uuid.UUID  `json:"author_id"` // nil for the automated responder
	Body       string      `json:"body"`
	Kind       MessageKind `json:"message_type"`
	ReplyTo    *uuid.UUID  `json:"reply_to,omitempty"`
	Deleted    bool        `json:"deleted"`
	ModelID    string      `json:"model_id,omitempty"`
	TokensUsed int         `json:"tokens_used,omitempty"`
	AuthorName string      `json:"author_name,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// MessagePayload is the rendering shape carried on the event bus and in
// outbound new_message frames.
type MessagePayload struct {
	UUID       uuid.UUID   `json:"uuid"`
	AuthorID   *uuid.UUID  `json:"author_id"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"message_type"`
	ReplyTo    *uuid.UUID  `json:"reply_to,omitempty"`
	AuthorName string      `json:"author_name"`
	ModelID    string      `json:"model_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// PayloadFor builds the rendering payload for a persisted message.
func PayloadFor(m *Message) *MessagePayload {
	return &MessagePayload{
		UUID:       m.UUID,
		AuthorID:   m.AuthorID,
		Content:    m.Body,
		Kind:       m.Kind,
		ReplyTo:    m.ReplyTo,
		AuthorName: m.AuthorName,
		ModelID:    m.ModelID,
		CreatedAt:  m.CreatedAt,
	}
}

// Notification is a user-targeted event delivered only to that user's
// live connection, if any.
type Notification struct {
	UserID  uuid.UUID `json:"user_id"`
	Title   string    `json:"title"`
	Body    string    `json:"body,omitempty"`
	RoomID  uuid.UUID `json:"room_id,omitempty"`
	Created time.Time `json:"created_at"`
}
