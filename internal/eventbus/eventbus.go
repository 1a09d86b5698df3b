package eventbus

import (
	"context"
	"fmt"
	"time"

	"foxchat/internal/models"

	"github.com/google/uuid"
)

type EventType string

const (
	EventNewMessage       EventType = "new_message"
	EventNotification     EventType = "new_notification"
	EventGenerationFailed EventType = "generation_failed"
)

// Event is the payload crossing process boundaries between the HTTP/worker
// side and the fanout server holding the live sockets. Room events fan out
// to every subscriber of RoomID; notification events are delivered only to
// the connection of Notification.UserID.
type Event struct {
	Type         EventType              `json:"type"`
	RoomID       uuid.UUID              `json:"room_id,omitempty"`
	RoomTitle    string                 `json:"room_title,omitempty"`
	RoomKind     models.RoomKind        `json:"room_kind,omitempty"`
	Message      *models.MessagePayload `json:"message,omitempty"`
	Notification *models.Notification   `json:"notification,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Validate shape-checks an event before it is handed to the dispatch path.
func (e *Event) Validate() error {
	switch e.Type {
	case EventNewMessage:
		if e.RoomID == uuid.Nil {
			return fmt.Errorf("new_message event requires room_id")
		}
		if e.Message == nil {
			return fmt.Errorf("new_message event requires message")
		}
		if e.Message.UUID == uuid.Nil {
			return fmt.Errorf("new_message event requires message.uuid")
		}
	case EventGenerationFailed:
		if e.RoomID == uuid.Nil {
			return fmt.Errorf("generation_failed event requires room_id")
		}
	case EventNotification:
		if e.Notification == nil {
			return fmt.Errorf("notification event requires notification")
		}
		if e.Notification.UserID == uuid.Nil {
			return fmt.Errorf("notification event requires notification.user_id")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// Bus is a process-wide publish/subscribe broker. A single broker instance
// is assumed; a clustered one can replace it behind the same interface.
type Bus interface {
	Publish(ctx context.Context, event *Event) error
	// Subscribe returns a channel of decoded events. Events with an invalid
	// shape are dropped and logged, never delivered.
	Subscribe(ctx context.Context) (<-chan *Event, error)
	Close() error
}
