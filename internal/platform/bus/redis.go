package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis fans changes out over a Redis pub/sub channel so processes sharing a
// Redis-backed store observe each other's writes.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger

	mu      sync.Mutex
	pubsubs []*redis.PubSub
}

// NewRedis builds a bus on channel "<namespace>:changes".
func NewRedis(client *redis.Client, namespace string, logger *slog.Logger) *Redis {
	if namespace == "" {
		namespace = "shopledger"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, channel: namespace + ":changes", logger: logger}
}

// Publish sends change to the channel. The message is handed to Redis before
// Publish returns.
func (r *Redis) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("bus: encode change: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Subscribe starts a listener goroutine which stops when ctx ends or the
// returned function is called. The subscription is confirmed before
// Subscribe returns.
func (r *Redis) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("bus: subscribe: %w", err)
	}
	r.mu.Lock()
	r.pubsubs = append(r.pubsubs, pubsub)
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					r.logger.Warn("bus: discard malformed change", slog.Any("error", err))
					continue
				}
				handler(change)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// Close terminates every subscription opened through this bus.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ps := range r.pubsubs {
		_ = ps.Close()
	}
	r.pubsubs = nil
	return nil
}
