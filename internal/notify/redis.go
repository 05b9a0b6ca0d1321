// Package notify provides the real-time notification channel for Amparo.
//
// This file implements the Redis pub/sub backed notifier.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/amparo-care/amparo/internal/models"
)

// DefaultChannelPrefix namespaces recipient channels in Redis.
const DefaultChannelPrefix = "amparo:notify:"

// RedisOpts holds configuration options for the Redis notifier.
type RedisOpts struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisOption defines a configuration option for the Redis notifier.
type RedisOption func(*RedisOpts)

// WithAddr sets the Redis server address (host:port).
func WithAddr(addr string) RedisOption {
	return func(o *RedisOpts) { o.Addr = addr }
}

// WithPassword sets the Redis password.
func WithPassword(password string) RedisOption {
	return func(o *RedisOpts) { o.Password = password }
}

// WithDB sets the Redis database number.
func WithDB(db int) RedisOption {
	return func(o *RedisOpts) { o.DB = db }
}

// WithChannelPrefix overrides the channel namespace prefix.
func WithChannelPrefix(prefix string) RedisOption {
	return func(o *RedisOpts) { o.ChannelPrefix = prefix }
}

// RedisNotifier publishes events to per-recipient Redis pub/sub channels.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier connects to Redis and returns the notifier.
func NewRedisNotifier(ctx context.Context, opts ...RedisOption) (*RedisNotifier, error) {
	var cfg RedisOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		slog.Error("RedisNotifier address not set")
		return nil, fmt.Errorf("redis address not set")
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultChannelPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", cfg.Addr)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("Redis notifier connected", "addr", cfg.Addr, "prefix", cfg.ChannelPrefix)
	return &RedisNotifier{client: client, prefix: cfg.ChannelPrefix}, nil
}

// Close closes the underlying Redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// Publish marshals the event envelope and publishes it on the recipient's
// channel. Zero subscribers is a normal outcome, not an error.
func (n *RedisNotifier) Publish(ctx context.Context, channel string, event models.EventType, payload interface{}) error {
	if channel == "" {
		return fmt.Errorf("notification channel cannot be empty")
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		slog.Error("RedisNotifier.Publish: failed to marshal envelope", "error", err, "event", event)
		return fmt.Errorf("failed to marshal event %s: %w", event, err)
	}
	if err := n.client.Publish(ctx, n.prefix+channel, data).Err(); err != nil {
		slog.Error("RedisNotifier.Publish failed", "error", err, "channel", channel, "event", event)
		return fmt.Errorf("failed to publish %s to %s: %w", event, channel, err)
	}
	slog.Debug("RedisNotifier.Publish succeeded", "channel", channel, "event", event)
	return nil
}

// Subscribe returns a subscription for a recipient's channel. It is used by
// gateway processes that hold client connections.
func (n *RedisNotifier) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return n.client.Subscribe(ctx, n.prefix+channel)
}
