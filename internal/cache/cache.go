package cache

import (
	"context"
	"errors"
	"time"

	"github.com/mattjoyce/spanlink/internal/metrics"
)

// Result is the outcome of a cache read.
type Result int

const (
	Miss Result = iota
	Hit
	Unavailable
)

func (r Result) String() string {
	switch r {
	case Hit:
		return "hit"
	case Unavailable:
		return "unavailable"
	default:
		return "miss"
	}
}

// ErrUnavailable marks a backend that could not be reached. Backends log it
// and report Unavailable or false; it never reaches callers of Get or Set.
var ErrUnavailable = errors.New("cache unavailable")

// Cache is a key/value store with TTL. Implementations never fail the caller:
// Get reports Miss or Unavailable and Set reports false instead.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, Result)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	Close() error
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, Result) { return nil, Miss }

func (Nop) Set(context.Context, string, []byte, time.Duration) bool { return false }

func (Nop) Close() error { return nil }

// Instrumented counts lookups by result.
type Instrumented struct {
	Cache
}

func (c Instrumented) Get(ctx context.Context, key string) ([]byte, Result) {
	v, res := c.Cache.Get(ctx, key)
	metrics.CacheLookups.WithLabelValues(res.String()).Inc()
	return v, res
}
