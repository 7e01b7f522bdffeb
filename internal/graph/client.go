package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/mattjoyce/spanlink/internal/alignment"
	"github.com/mattjoyce/spanlink/internal/config"
	"github.com/mattjoyce/spanlink/internal/resource"
)

// Client answers alignment queries against Neo4j. The driver is shared and
// created on first use; every query runs read-routed.
type Client struct {
	driver   *resource.Lazy[neo4j.DriverWithContext]
	database string
	logger   *slog.Logger
}

var _ alignment.Gateway = (*Client)(nil)

func New(cfg config.GraphConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "graph")

	driver := resource.New("graph",
		func(context.Context) (neo4j.DriverWithContext, error) {
			logger.Info("creating graph driver", "uri", cfg.URI, "user", cfg.Username)
			return neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
		},
		func(ctx context.Context, d neo4j.DriverWithContext) error {
			return d.VerifyConnectivity(ctx)
		},
		func(d neo4j.DriverWithContext) error {
			return d.Close(context.Background())
		})

	return &Client{driver: driver, database: cfg.Database, logger: logger}
}

func (c *Client) run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	driver, err := c.driver.Get(ctx)
	if err != nil {
		return nil, err
	}
	opts := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if c.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(c.database))
	}
	res, err := neo4j.ExecuteQuery(ctx, driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

func (c *Client) AlignmentPairs(ctx context.Context, manifestationID string) ([]alignment.Pair, error) {
	records, err := c.run(ctx, alignmentPairsQuery, map[string]any{"manifestation_id": manifestationID})
	if err != nil {
		return nil, fmt.Errorf("query alignment pairs: %w", err)
	}
	pairs := make([]alignment.Pair, 0, len(records))
	for _, rec := range records {
		p, err := pairFromRecord(rec)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func (c *Client) AlignedSegments(ctx context.Context, alignment1ID string, span alignment.Span) ([]alignment.Segment, error) {
	records, err := c.run(ctx, alignedSegmentsQuery, map[string]any{
		"alignment_1_id": alignment1ID,
		"span_start":     span.Start,
		"span_end":       span.End,
	})
	if err != nil {
		return nil, fmt.Errorf("query aligned segments: %w", err)
	}
	return segmentsFromRecords(records)
}

func (c *Client) ManifestationOf(ctx context.Context, annotationID string) (string, bool, error) {
	records, err := c.run(ctx, manifestationOfQuery, map[string]any{"annotation_id": annotationID})
	if err != nil {
		return "", false, fmt.Errorf("query manifestation of annotation: %w", err)
	}
	if len(records) == 0 {
		return "", false, nil
	}
	id, isNil, err := neo4j.GetRecordValue[string](records[0], "manifestation_id")
	if err != nil {
		return "", false, fmt.Errorf("read manifestation_id: %w", err)
	}
	if isNil {
		return "", false, nil
	}
	return id, true, nil
}

func (c *Client) OverlappingSegments(ctx context.Context, manifestationID string, span alignment.Span) ([]alignment.Segment, error) {
	records, err := c.run(ctx, overlappingSegmentsQuery, map[string]any{
		"manifestation_id": manifestationID,
		"span_start":       span.Start,
		"span_end":         span.End,
	})
	if err != nil {
		return nil, fmt.Errorf("query overlapping segments: %w", err)
	}
	return segmentsFromRecords(records)
}

// SegmentsOf lists every segment of the manifestation's segmentation or
// pagination annotation, ordered by start.
func (c *Client) SegmentsOf(ctx context.Context, manifestationID string) ([]alignment.Segment, error) {
	records, err := c.run(ctx, segmentsOfQuery, map[string]any{"manifestation_id": manifestationID})
	if err != nil {
		return nil, fmt.Errorf("query segments of manifestation: %w", err)
	}
	return segmentsFromRecords(records)
}

// Ping verifies connectivity, creating the driver if needed.
func (c *Client) Ping(ctx context.Context) error {
	return c.driver.Check(ctx)
}

func (c *Client) Close() error {
	return c.driver.Close()
}

func pairFromRecord(rec *neo4j.Record) (alignment.Pair, error) {
	a1, _, err := neo4j.GetRecordValue[string](rec, "alignment_1_id")
	if err != nil {
		return alignment.Pair{}, fmt.Errorf("read alignment_1_id: %w", err)
	}
	a2, _, err := neo4j.GetRecordValue[string](rec, "alignment_2_id")
	if err != nil {
		return alignment.Pair{}, fmt.Errorf("read alignment_2_id: %w", err)
	}
	return alignment.Pair{Alignment1ID: a1, Alignment2ID: a2}, nil
}

func segmentsFromRecords(records []*neo4j.Record) ([]alignment.Segment, error) {
	out := make([]alignment.Segment, 0, len(records))
	for _, rec := range records {
		id, _, err := neo4j.GetRecordValue[string](rec, "segment_id")
		if err != nil {
			return nil, fmt.Errorf("read segment_id: %w", err)
		}
		start, _, err := neo4j.GetRecordValue[int64](rec, "span_start")
		if err != nil {
			return nil, fmt.Errorf("read span_start of %s: %w", id, err)
		}
		end, _, err := neo4j.GetRecordValue[int64](rec, "span_end")
		if err != nil {
			return nil, fmt.Errorf("read span_end of %s: %w", id, err)
		}
		out = append(out, alignment.Segment{
			SegmentID: id,
			Span:      alignment.Span{Start: int(start), End: int(end)},
		})
	}
	return out, nil
}
