package alignment

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mattjoyce/spanlink/internal/cache"
)

const (
	pairsKeyPrefix = "alignment_pairs_by_manifestation_"
	ownerKeyPrefix = "manifestation_id_by_annotation_id_"
)

// CachedGateway memoizes the two graph lookups that stay stable for a graph
// snapshot. Cache trouble only costs a round trip to the inner gateway.
type CachedGateway struct {
	inner  Gateway
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedGateway(inner Gateway, c cache.Cache, ttl time.Duration, logger *slog.Logger) *CachedGateway {
	if c == nil {
		c = cache.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedGateway{inner: inner, cache: c, ttl: ttl, logger: logger.With("component", "alignment-cache")}
}

func (g *CachedGateway) AlignmentPairs(ctx context.Context, manifestationID string) ([]Pair, error) {
	key := pairsKeyPrefix + manifestationID
	var pairs []Pair
	if g.lookup(ctx, key, &pairs) {
		return pairs, nil
	}

	pairs, err := g.inner.AlignmentPairs(ctx, manifestationID)
	if err != nil {
		return nil, err
	}
	if pairs == nil {
		pairs = []Pair{}
	}
	g.store(ctx, key, pairs)
	return pairs, nil
}

func (g *CachedGateway) ManifestationOf(ctx context.Context, annotationID string) (string, bool, error) {
	key := ownerKeyPrefix + annotationID
	var owner string
	if g.lookup(ctx, key, &owner) && owner != "" {
		return owner, true, nil
	}

	owner, found, err := g.inner.ManifestationOf(ctx, annotationID)
	if err != nil || !found {
		return owner, found, err
	}
	g.store(ctx, key, owner)
	return owner, true, nil
}

func (g *CachedGateway) AlignedSegments(ctx context.Context, alignment1ID string, span Span) ([]Segment, error) {
	return g.inner.AlignedSegments(ctx, alignment1ID, span)
}

func (g *CachedGateway) OverlappingSegments(ctx context.Context, manifestationID string, span Span) ([]Segment, error) {
	return g.inner.OverlappingSegments(ctx, manifestationID, span)
}

func (g *CachedGateway) lookup(ctx context.Context, key string, dst any) bool {
	raw, res := g.cache.Get(ctx, key)
	switch res {
	case cache.Hit:
		if err := json.Unmarshal(raw, dst); err != nil {
			g.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
			return false
		}
		g.logger.Debug("cache hit", "key", key)
		return true
	case cache.Unavailable:
		g.logger.Debug("cache unavailable, querying graph", "key", key)
	default:
		g.logger.Debug("cache miss", "key", key)
	}
	return false
}

func (g *CachedGateway) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if !g.cache.Set(ctx, key, raw, g.ttl) {
		g.logger.Debug("cache set skipped", "key", key)
	}
}
