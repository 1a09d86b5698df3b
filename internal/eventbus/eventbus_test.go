package eventbus

import (
	"testing"
	"time"

	"foxchat/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEventValidate(t *testing.T) {
	roomID := uuid.New()

	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{
			name: "valid new_message",
			event: &Event{
				Type:    EventNewMessage,
				RoomID:  roomID,
				Message: &models.MessagePayload{UUID: uuid.New(), Content: "hi"},
			},
		},
		{
			name:    "new_message without room",
			event:   &Event{Type: EventNewMessage, Message: &models.MessagePayload{UUID: uuid.New()}},
			wantErr: true,
		},
		{
			name:    "new_message without payload",
			event:   &Event{Type: EventNewMessage, RoomID: roomID},
			wantErr: true,
		},
		{
			name:    "new_message with nil message uuid",
			event:   &Event{Type: EventNewMessage, RoomID: roomID, Message: &models.MessagePayload{}},
			wantErr: true,
		},
		{
			name:  "valid generation_failed",
			event: &Event{Type: EventGenerationFailed, RoomID: roomID},
		},
		{
			name:    "generation_failed without room",
			event:   &Event{Type: EventGenerationFailed},
			wantErr: true,
		},
		{
			name: "valid notification",
			event: &Event{
				Type:         EventNotification,
				Notification: &models.Notification{UserID: uuid.New(), Title: "mention", Created: time.Now()},
			},
		},
		{
			name:    "notification without target",
			event:   &Event{Type: EventNotification, Notification: &models.Notification{Title: "x"}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			event:   &Event{Type: EventType("resync")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
