package alignment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spanlink/internal/cache"
)

// brokenCache behaves like an unreachable backend.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, cache.Result) { return nil, cache.Unavailable }

func (brokenCache) Set(context.Context, string, []byte, time.Duration) bool { return false }

func (brokenCache) Close() error { return nil }

// stubCache serves fixed raw values.
type stubCache map[string][]byte

func (s stubCache) Get(_ context.Context, key string) ([]byte, cache.Result) {
	v, ok := s[key]
	if !ok {
		return nil, cache.Miss
	}
	return v, cache.Hit
}

func (s stubCache) Set(context.Context, string, []byte, time.Duration) bool { return true }

func (s stubCache) Close() error { return nil }

func TestCachedGatewayServesRepeatLookups(t *testing.T) {
	c, err := cache.OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	graph := triangleGraph()
	e := NewEngine(NewCachedGateway(graph, c, time.Hour, nil), nil)

	first, err := e.Resolve(context.Background(), "A", Span{Start: 10, End: 20}, true)
	require.NoError(t, err)
	second, err := e.Resolve(context.Background(), "A", Span{Start: 10, End: 20}, true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, graph.count("AlignmentPairs", "A"), "second walk reads pairs from cache")
	assert.Equal(t, 1, graph.count("ManifestationOf", "al-BA"))
	assert.Equal(t, 2, graph.count("AlignedSegments", "al-AB"), "segment queries are not cached")
}

func TestCachedGatewayIsTransparentWhenCacheFails(t *testing.T) {
	plain, err := NewEngine(triangleGraph(), nil).Resolve(context.Background(), "A", Span{Start: 10, End: 20}, true)
	require.NoError(t, err)

	graph := triangleGraph()
	cached, err := NewEngine(NewCachedGateway(graph, brokenCache{}, time.Hour, nil), nil).
		Resolve(context.Background(), "A", Span{Start: 10, End: 20}, true)
	require.NoError(t, err)

	assert.Equal(t, plain, cached)
	assert.Equal(t, 1, graph.count("AlignmentPairs", "A"))
}

func TestCachedGatewayNilCacheFallsBackToNop(t *testing.T) {
	gw := NewCachedGateway(twoCycleGraph(), nil, time.Hour, nil)
	pairs, err := gw.AlignmentPairs(context.Background(), "A")
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestCachedGatewayDiscardsUndecodableEntries(t *testing.T) {
	graph := twoCycleGraph()
	c := stubCache{
		pairsKeyPrefix + "A":      []byte("{not json"),
		ownerKeyPrefix + "al-BA": []byte(`"B"`),
	}
	gw := NewCachedGateway(graph, c, time.Hour, nil)

	pairs, err := gw.AlignmentPairs(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, []Pair{{Alignment1ID: "al-AB", Alignment2ID: "al-BA"}}, pairs)
	assert.Equal(t, 1, graph.count("AlignmentPairs", "A"))

	owner, found, err := gw.ManifestationOf(context.Background(), "al-BA")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "B", owner)
	assert.Equal(t, 0, graph.count("ManifestationOf", "al-BA"), "owner served from cache")
}

func TestCachedGatewayCachesEmptyPairs(t *testing.T) {
	c, err := cache.OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	graph := &fakeGraph{}
	gw := NewCachedGateway(graph, c, time.Hour, nil)

	for i := 0; i < 3; i++ {
		pairs, err := gw.AlignmentPairs(context.Background(), "lonely")
		require.NoError(t, err)
		assert.Empty(t, pairs)
	}
	assert.Equal(t, 1, graph.count("AlignmentPairs", "lonely"))
}

func TestCachedGatewayDoesNotCacheMissingOwner(t *testing.T) {
	c, err := cache.OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	graph := twoCycleGraph()
	gw := NewCachedGateway(graph, c, time.Hour, nil)

	for i := 0; i < 2; i++ {
		_, found, err := gw.ManifestationOf(context.Background(), "al-unknown")
		require.NoError(t, err)
		assert.False(t, found)
	}
	assert.Equal(t, 2, graph.count("ManifestationOf", "al-unknown"))
}

func TestCachedGatewayPropagatesGraphErrors(t *testing.T) {
	graph := twoCycleGraph()
	graph.failOn = "AlignmentPairs"
	gw := NewCachedGateway(graph, cache.Nop{}, time.Hour, nil)

	_, err := gw.AlignmentPairs(context.Background(), "A")
	assert.ErrorIs(t, err, errGraphDown)
}
