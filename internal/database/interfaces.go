package database

import (
	"context"
	"errors"

	"foxchat/internal/models"

	"github.com/google/uuid"
)

// ErrNotFound reports that the requested row does not exist, as opposed to
// the store being unreachable. Callers branch on it with errors.Is.
var ErrNotFound = errors.New("not found")

type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *models.Message) error
	// FetchRecentMessages returns up to limit non-deleted messages of a room,
	// oldest to newest, ordered by creation time with UUID as tiebreak.
	FetchRecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error)
	// FetchPromptHistory is FetchRecentMessages restricted to text messages,
	// the shape consumed by the response pipeline.
	FetchPromptHistory(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error)
	GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID uuid.UUID) error
}

type RoomRepository interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (*models.ChatRoom, error)
	RoomExists(ctx context.Context, roomID uuid.UUID) (bool, error)
	// TouchRoom bumps the room's last-activity timestamp.
	TouchRoom(ctx context.Context, roomID uuid.UUID) error
}

type ParticipantRepository interface {
	IsParticipant(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	ParticipantIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

type UserRepository interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// Store is the durable conversation log consumed by the fanout server and
// the response pipeline.
type Store interface {
	MessageRepository
	RoomRepository
	ParticipantRepository
	UserRepository
	Close() error
}
