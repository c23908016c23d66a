package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBus wraps an existing Redis client. The caller owns the client's
// lifecycle; Close here only tears down subscriptions created through the bus.
func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{client: client, logger: logger}
}

// Publish marshals v and publishes it on topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal for %s: %w", topic, err)
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis subscription on topic and pumps payloads into the
// returned channel. Slow consumers drop messages rather than blocking the
// pump.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	sub := b.client.Subscribe(ctx, topic)
	// Force the SUBSCRIBE round trip so a bad connection fails here, not on
	// first receive.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("bus: subscribe %s: %w", topic, err)
	}

	out := make(chan []byte, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					b.logger.Warn("bus: dropping message for slow consumer", "topic", topic)
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := sub.Close(); err != nil {
				b.logger.Warn("bus: close subscription", "topic", topic, "error", err)
			}
		})
	}
	return out, cancel, nil
}

// Close is a no-op for the Redis bus; the underlying client belongs to the
// caller.
func (b *RedisBus) Close() error {
	return nil
}
