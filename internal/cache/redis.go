package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mattjoyce/spanlink/internal/resource"
)

// Redis is a cache backed by any Redis-protocol server (Redis, Dragonfly).
// The client is created and pinged on first use; until that succeeds every
// call reports Unavailable.
type Redis struct {
	client *resource.Lazy[*redis.Client]
	logger *slog.Logger
}

// NewRedis prepares a client for url without dialing.
func NewRedis(url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 60 * time.Second
	return newRedis(opts, logger), nil
}

func newRedis(opts *redis.Options, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	lazy := resource.New("cache",
		func(context.Context) (*redis.Client, error) {
			return redis.NewClient(opts), nil
		},
		func(ctx context.Context, c *redis.Client) error {
			return c.Ping(ctx).Err()
		},
		func(c *redis.Client) error {
			return c.Close()
		})
	return &Redis{client: lazy, logger: logger.With("component", "cache", "backend", "redis")}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, Result) {
	c, err := r.client.Get(ctx)
	if err != nil {
		r.logger.Warn("cache get failed", "key", key, "error", fmt.Errorf("%w: %v", ErrUnavailable, err))
		return nil, Unavailable
	}
	v, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, Miss
	}
	if err != nil {
		r.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, Unavailable
	}
	return v, Hit
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	c, err := r.client.Get(ctx)
	if err != nil {
		r.logger.Warn("cache set failed", "key", key, "error", fmt.Errorf("%w: %v", ErrUnavailable, err))
		return false
	}
	if err := c.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Warn("cache set failed", "key", key, "error", err)
		return false
	}
	return true
}

// Ping reports backend health.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Check(ctx)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
