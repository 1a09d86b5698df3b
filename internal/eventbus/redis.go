package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"foxchat/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries all room events over a single shared pub/sub channel with
// a room-id field in the payload. Redis preserves publish order per
// connection, which is what gives subscribers the per-room ordering
// guarantee.
type RedisBus struct {
	client  *redis.Client
	channel string
}

func NewRedisBus(addr, password string, db int, channel string) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis at %s (channel %s)", addr, channel)
	return &RedisBus{client: client, channel: channel}, nil
}

func (b *RedisBus) Publish(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("refusing to publish invalid event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan *Event, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)

	// Force the subscription to be established before returning so callers
	// never miss events published right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	events := make(chan *Event, 64)
	go func() {
		defer close(events)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				event := &Event{}
				if err := json.Unmarshal([]byte(msg.Payload), event); err != nil {
					logger.Error("Dropping undecodable bus payload: %v", err)
					continue
				}
				if err := event.Validate(); err != nil {
					logger.Error("Dropping invalid bus event: %v", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
