package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/luca-patrignani/greetme/ledger"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel events are published on.
const DefaultChannel = "greetme:events"

// Publisher is the subset of redis.Cmdable used to publish events.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher forwards ledger events to a Redis pub/sub channel as JSON.
// It consumes a hub subscription so that a slow Redis never stalls the
// engine.
type RedisPublisher struct {
	client  Publisher
	channel string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisClient creates a client for the Redis server at addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisPublisher(client Publisher, channel string, logger *slog.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedisPublisher{client: client, channel: channel, timeout: 2 * time.Second, logger: logger}
}

// Publish sends a single event.
func (p *RedisPublisher) Publish(ctx context.Context, ev ledger.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish error: %w", err)
	}
	return nil
}

// Run publishes every event received on events until the channel is closed
// or ctx is done. Publish errors are logged and do not stop the loop.
func (p *RedisPublisher) Run(ctx context.Context, events <-chan ledger.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, ev); err != nil {
				p.logger.Warn("failed to publish event", "kind", ev.Kind, "id", ev.Greeting.ID, "error", err)
			}
		}
	}
}
