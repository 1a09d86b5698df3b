package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type FrameType string

const (
	// Inbound
	FrameTypeAuth        FrameType = "auth"
	FrameTypeSubscribe   FrameType = "subscribe"
	FrameTypeUnsubscribe FrameType = "unsubscribe"
	FrameTypePublish     FrameType = "publish"
	FrameTypePing        FrameType = "ping"

	// Outbound
	FrameTypeAuthSuccess        FrameType = "auth_success"
	FrameTypeSubscribeSuccess   FrameType = "subscribe_success"
	FrameTypeUnsubscribeSuccess FrameType = "unsubscribe_success"
	FrameTypeNewMessage         FrameType = "new_message"
	FrameTypeNotification       FrameType = "notification"
	FrameTypeGenerationFailed   FrameType = "generation_failed"
	FrameTypeServerShutdown     FrameType = "server_shutdown"
	FrameTypeError              FrameType = "error"
	FrameTypePong               FrameType = "pong"
)

// Error codes carried on error frames.
const (
	ErrCodeAuthRequired = "auth_required"
	ErrCodeAuthFailed   = "auth_failed"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInvalidFrame = "invalid_frame"
	ErrCodeRoomNotFound = "room_not_found"
	ErrCodeStoreError   = "store_error"
)

// InboundFrame is the union of all client-to-server frame shapes.
type InboundFrame struct {
	Type    FrameType `json:"type"`
	Token   string    `json:"token,omitempty"`
	Rooms   []string  `json:"rooms,omitempty"`
	RoomID  string    `json:"room_id,omitempty"`
	Body    string    `json:"body,omitempty"`
	Kind    string    `json:"message_type,omitempty"`
	ReplyTo string    `json:"reply_to,omitempty"`
}

// DecodeInbound parses and shape-checks a raw client frame.
func DecodeInbound(raw []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame type not specified")
	}
	switch f.Type {
	case FrameTypeAuth:
		if f.Token == "" {
			return nil, fmt.Errorf("auth frame requires token")
		}
	case FrameTypeSubscribe, FrameTypeUnsubscribe:
		if _, err := uuid.Parse(f.RoomID); err != nil {
			return nil, fmt.Errorf("invalid room_id: %w", err)
		}
	case FrameTypePublish:
		if _, err := uuid.Parse(f.RoomID); err != nil {
			return nil, fmt.Errorf("invalid room_id: %w", err)
		}
		if strings.TrimSpace(f.Body) == "" {
			return nil, fmt.Errorf("publish frame requires body")
		}
		if f.ReplyTo != "" {
			if _, err := uuid.Parse(f.ReplyTo); err != nil {
				return nil, fmt.Errorf("invalid reply_to: %w", err)
			}
		}
		switch MessageKind(f.Kind) {
		case "", MessageKindText, MessageKindImage, MessageKindFile:
		default:
			return nil, fmt.Errorf("unknown message_type %q", f.Kind)
		}
	case FrameTypePing:
	default:
		return nil, fmt.Errorf("unknown frame type %q", f.Type)
	}
	return &f, nil
}

// MessageKindOrDefault returns the publish frame's message kind, defaulting
// to text.
func (f *InboundFrame) MessageKindOrDefault() MessageKind {
	if f.Kind == "" {
		return MessageKindText
	}
	return MessageKind(f.Kind)
}

// OutboundFrame covers the server-to-client frames whose message field, if
// present, is a rendering payload. Error frames have their own shape because
// their message field is plain text.
type OutboundFrame struct {
	Type         FrameType       `json:"type"`
	RoomID       string          `json:"room_id,omitempty"`
	Message      *MessagePayload `json:"message,omitempty"`
	Notification *Notification   `json:"notification,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
}

func (f *OutboundFrame) Encode() []byte {
	data, err := json.Marshal(f)
	if err != nil {
		// All outbound frame fields are marshalable; this cannot fail at
		// runtime with well-formed payloads.
		return []byte(`{"type":"error","code":"internal","message":"encoding failure"}`)
	}
	return data
}

type errorFrame struct {
	Type    FrameType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// EncodeError builds an {type:"error", code, message} frame.
func EncodeError(code, text string) []byte {
	data, _ := json.Marshal(errorFrame{Type: FrameTypeError, Code: code, Message: text})
	return data
}
