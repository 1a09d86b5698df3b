package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foxchat/internal/ai"
	"foxchat/internal/database"
	"foxchat/internal/eventbus"
	"foxchat/internal/models"
	"foxchat/pkg/logger"

	"github.com/google/uuid"
)

// Terminal job failures. A failed job is not retried; the client only
// observes the absence of a reply plus a generation_failed room event.
var (
	ErrHistoryEmpty     = errors.New("no eligible history for room")
	ErrGenerationFailed = errors.New("generation failed")
)

// Generator produces a reply from an ordered conversation history.
type Generator interface {
	Generate(ctx context.Context, history []ai.Turn) (*ai.Result, error)
}

type Config struct {
	PersonaName  string
	ModelID      string
	HistoryLimit int
}

// Runner executes one automated-reply job: fetch the room's recent eligible
// history, invoke the generation service, persist the reply, and publish it
// on the event bus so every fanout instance can deliver it.
type Runner struct {
	store database.Store
	gen   Generator
	bus   eventbus.Bus
	cfg   Config
}

func NewRunner(store database.Store, gen Generator, bus eventbus.Bus, cfg Config) *Runner {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Runner{store: store, gen: gen, bus: bus, cfg: cfg}
}

// Run processes the job keyed by (roomID, triggerID). Failure at any step is
// terminal: nothing is persisted or published on a failed generation, and
// the error is reported to the caller for logging only.
func (r *Runner) Run(ctx context.Context, roomID, triggerID uuid.UUID) error {
	started := time.Now()
	logger.Info("Response job started: room=%s trigger=%s", roomID, triggerID)

	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("room %s not found: %w", roomID, err)
	}

	history, err := r.store.FetchPromptHistory(ctx, roomID, r.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch history for room %s: %w", roomID, err)
	}
	if len(history) == 0 {
		return fmt.Errorf("room %s: %w", roomID, ErrHistoryEmpty)
	}

	turns := buildTurns(history)

	result, err := r.gen.Generate(ctx, turns)
	if err != nil {
		r.publishFailure(roomID, triggerID)
		return fmt.Errorf("room %s: %w: %v", roomID, ErrGenerationFailed, err)
	}

	reply := &models.Message{
		UUID:       uuid.New(),
		RoomID:     roomID,
		AuthorID:   nil,
		Body:       result.Content,
		Kind:       models.MessageKindText,
		ModelID:    r.cfg.ModelID,
		TokensUsed: result.TokensUsed,
		AuthorName: r.cfg.PersonaName,
	}

	if err := r.store.InsertMessage(ctx, reply); err != nil {
		r.publishFailure(roomID, triggerID)
		return fmt.Errorf("failed to persist reply for room %s: %w", roomID, err)
	}

	if err := r.store.TouchRoom(ctx, roomID); err != nil {
		logger.Warn("Failed to touch room %s: %v", roomID, err)
	}

	event := &eventbus.Event{
		Type:      eventbus.EventNewMessage,
		RoomID:    roomID,
		RoomTitle: room.Title,
		RoomKind:  room.Kind,
		Message:   models.PayloadFor(reply),
		Timestamp: time.Now().UTC(),
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		// The reply is durable but this fanout instance could not announce
		// it; subscribers will see it on their next history fetch.
		return fmt.Errorf("failed to publish reply for room %s: %w", roomID, err)
	}

	logger.Info("Response job finished: room=%s message=%s tokens=%d took=%s",
		roomID, reply.UUID, result.TokensUsed, time.Since(started))
	return nil
}

// buildTurns maps stored messages to (role, content) pairs, oldest first.
// A present author id means a human turn; absence means a prior automated
// reply.
func buildTurns(history []*models.Message) []ai.Turn {
	turns := make([]ai.Turn, 0, len(history))
	for _, msg := range history {
		role := "assistant"
		if msg.AuthorID != nil {
			role = "user"
		}
		turns = append(turns, ai.Turn{Role: role, Content: msg.Body})
	}
	return turns
}

// publishFailure tells subscribers the expected reply is not coming, so
// clients can drop their pending indicator. Best effort.
func (r *Runner) publishFailure(roomID, triggerID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := &eventbus.Event{
		Type:      eventbus.EventGenerationFailed,
		RoomID:    roomID,
		Timestamp: time.Now().UTC(),
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		logger.Error("Failed to publish generation failure for room %s (trigger %s): %v", roomID, triggerID, err)
	}
}
