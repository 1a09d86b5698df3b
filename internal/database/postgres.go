package database

import (
	"context"
	"errors"
	"fmt"

	"foxchat/internal/models"
	"foxchat/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Message Repository Implementation

func (db *PostgresDB) InsertMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (uuid, room_id, author_id, body, message_type, reply_to, ai_model, tokens_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at`

	err := db.pool.QueryRow(ctx, query,
		msg.UUID, msg.RoomID, msg.AuthorID, msg.Body, msg.Kind, msg.ReplyTo,
		nullIfEmpty(msg.ModelID), msg.TokensUsed,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

func (db *PostgresDB) FetchRecentMessages(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error) {
	query := `
		SELECT m.uuid, m.room_id, m.author_id, m.body, m.message_type, m.reply_to,
		       m.deleted, COALESCE(m.ai_model, ''), m.tokens_used, COALESCE(u.name, ''), m.created_at
		FROM messages m
		LEFT JOIN users u ON m.author_id = u.id
		WHERE m.room_id = $1 AND m.deleted = FALSE
		ORDER BY m.created_at DESC, m.uuid DESC
		LIMIT $2`

	return db.fetchMessages(ctx, query, roomID, limit)
}

func (db *PostgresDB) FetchPromptHistory(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.Message, error) {
	query := `
		SELECT m.uuid, m.room_id, m.author_id, m.body, m.message_type, m.reply_to,
		       m.deleted, COALESCE(m.ai_model, ''), m.tokens_used, COALESCE(u.name, ''), m.created_at
		FROM messages m
		LEFT JOIN users u ON m.author_id = u.id
		WHERE m.room_id = $1 AND m.deleted = FALSE AND m.message_type = 'text'
		ORDER BY m.created_at DESC, m.uuid DESC
		LIMIT $2`

	return db.fetchMessages(ctx, query, roomID, limit)
}

func (db *PostgresDB) fetchMessages(ctx context.Context, query string, roomID uuid.UUID, limit int) ([]*models.Message, error) {
	rows, err := db.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(
			&msg.UUID, &msg.RoomID, &msg.AuthorID, &msg.Body, &msg.Kind, &msg.ReplyTo,
			&msg.Deleted, &msg.ModelID, &msg.TokensUsed, &msg.AuthorName, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (db *PostgresDB) GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	query := `
		SELECT m.uuid, m.room_id, m.author_id, m.body, m.message_type, m.reply_to,
		       m.deleted, COALESCE(m.ai_model, ''), m.tokens_used, COALESCE(u.name, ''), m.created_at
		FROM messages m
		LEFT JOIN users u ON m.author_id = u.id
		WHERE m.uuid = $1`

	msg := &models.Message{}
	err := db.pool.QueryRow(ctx, query, messageID).Scan(
		&msg.UUID, &msg.RoomID, &msg.AuthorID, &msg.Body, &msg.Kind, &msg.ReplyTo,
		&msg.Deleted, &msg.ModelID, &msg.TokensUsed, &msg.AuthorName, &msg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func (db *PostgresDB) SoftDeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	query := `UPDATE messages SET deleted = TRUE WHERE uuid = $1`
	_, err := db.pool.Exec(ctx, query, messageID)
	return err
}

// Room Repository Implementation

func (db *PostgresDB) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.ChatRoom, error) {
	query := `SELECT id, title, kind, last_message_at, created_at FROM rooms WHERE id = $1`

	room := &models.ChatRoom{}
	err := db.pool.QueryRow(ctx, query, roomID).Scan(
		&room.ID, &room.Title, &room.Kind, &room.LastMessageAt, &room.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return room, nil
}

func (db *PostgresDB) RoomExists(ctx context.Context, roomID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, roomID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) TouchRoom(ctx context.Context, roomID uuid.UUID) error {
	query := `UPDATE rooms SET last_message_at = NOW(), updated_at = NOW() WHERE id = $1`
	_, err := db.pool.Exec(ctx, query, roomID)
	return err
}

// Participant Repository Implementation

func (db *PostgresDB) IsParticipant(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM room_participants WHERE user_id = $1 AND room_id = $2)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, userID, roomID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) ParticipantIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT user_id FROM room_participants WHERE room_id = $1`

	rows, err := db.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// User Repository Implementation

func (db *PostgresDB) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `SELECT id, name, COALESCE(avatar_url, ''), created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, userID).Scan(
		&user.ID, &user.Name, &user.AvatarURL, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
