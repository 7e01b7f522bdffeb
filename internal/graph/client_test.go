package graph

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spanlink/internal/alignment"
	"github.com/mattjoyce/spanlink/internal/config"
)

func record(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

func TestSegmentsFromRecords(t *testing.T) {
	keys := []string{"segment_id", "span_start", "span_end"}
	segs, err := segmentsFromRecords([]*neo4j.Record{
		record(keys, "s1", int64(0), int64(10)),
		record(keys, "s2", int64(10), int64(25)),
	})
	require.NoError(t, err)
	assert.Equal(t, []alignment.Segment{
		{SegmentID: "s1", Span: alignment.Span{Start: 0, End: 10}},
		{SegmentID: "s2", Span: alignment.Span{Start: 10, End: 25}},
	}, segs)
}

func TestSegmentsFromRecordsRejectsBadTypes(t *testing.T) {
	keys := []string{"segment_id", "span_start", "span_end"}
	_, err := segmentsFromRecords([]*neo4j.Record{record(keys, "s1", "zero", int64(10))})
	assert.Error(t, err)
}

func TestSegmentsFromRecordsEmpty(t *testing.T) {
	segs, err := segmentsFromRecords(nil)
	require.NoError(t, err)
	assert.NotNil(t, segs)
	assert.Empty(t, segs)
}

func TestPairFromRecord(t *testing.T) {
	p, err := pairFromRecord(record([]string{"alignment_1_id", "alignment_2_id"}, "al-1", "al-2"))
	require.NoError(t, err)
	assert.Equal(t, alignment.Pair{Alignment1ID: "al-1", Alignment2ID: "al-2"}, p)

	_, err = pairFromRecord(record([]string{"alignment_1_id"}, "al-1"))
	assert.Error(t, err)
}

func TestQueriesUseHalfOpenOverlap(t *testing.T) {
	for name, q := range map[string]string{
		"aligned":     alignedSegmentsQuery,
		"overlapping": overlappingSegmentsQuery,
	} {
		assert.True(t, strings.Contains(q, "span_start < $span_end") && strings.Contains(q, "span_end > $span_start"),
			"%s query must use the half-open overlap predicate", name)
		assert.Contains(t, q, "ORDER BY span_start", name)
	}
}

func TestClientUnreachableGraphFails(t *testing.T) {
	c := New(config.GraphConfig{URI: "neo4j://127.0.0.1:1", Username: "neo4j", Password: "x"}, nil)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.AlignmentPairs(ctx, "A")
	assert.Error(t, err)
	assert.Error(t, c.Ping(ctx))
}
