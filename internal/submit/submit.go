package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/spanlink/internal/alignment"
	"github.com/mattjoyce/spanlink/internal/events"
	"github.com/mattjoyce/spanlink/internal/ledger"
	"github.com/mattjoyce/spanlink/internal/queue"
)

var ErrNoSegments = errors.New("text has no segments")

// SegmentSource lists the segmentation of a manifestation.
type SegmentSource interface {
	SegmentsOf(ctx context.Context, manifestationID string) ([]alignment.Segment, error)
}

// JobStore creates root jobs and their tasks.
type JobStore interface {
	CreateRootJob(ctx context.Context, textID string, totalSegments int) (ledger.RootJob, error)
	CreateSegmentTasks(ctx context.Context, rootJobID, textID string, segmentIDs []string) (int, error)
}

// BatchPublisher enqueues batches for the workers.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, msg queue.BatchMessage) error
}

// Receipt describes a submitted root job.
type Receipt struct {
	RootJobID     string `json:"root_job_id"`
	TextID        string `json:"text_id"`
	TotalSegments int    `json:"total_segments"`
	Batches       int    `json:"batches"`
}

// Submitter fans a whole text out into batches of one new root job.
type Submitter struct {
	segments  SegmentSource
	jobs      JobStore
	publisher BatchPublisher
	batchSize int
	hub       *events.Hub
	logger    *slog.Logger
}

func New(segments SegmentSource, jobs JobStore, publisher BatchPublisher, batchSize int, hub *events.Hub, logger *slog.Logger) *Submitter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		segments:  segments,
		jobs:      jobs,
		publisher: publisher,
		batchSize: batchSize,
		hub:       hub,
		logger:    logger.With("component", "submit"),
	}
}

// Submit creates a root job covering every segment of textID and publishes
// its batches in segment order. A publish failure leaves the job with the
// batches sent so far; the error names how many made it.
func (s *Submitter) Submit(ctx context.Context, textID string) (Receipt, error) {
	textID = strings.TrimSpace(textID)
	if textID == "" {
		return Receipt{}, fmt.Errorf("text id is empty")
	}

	segs, err := s.segments.SegmentsOf(ctx, textID)
	if err != nil {
		return Receipt{}, fmt.Errorf("list segments of %s: %w", textID, err)
	}
	if len(segs) == 0 {
		return Receipt{}, fmt.Errorf("%s: %w", textID, ErrNoSegments)
	}

	job, err := s.jobs.CreateRootJob(ctx, textID, len(segs))
	if err != nil {
		return Receipt{}, err
	}
	ids := make([]string, len(segs))
	for i, seg := range segs {
		ids[i] = seg.SegmentID
	}
	if _, err := s.jobs.CreateSegmentTasks(ctx, job.JobID, textID, ids); err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{RootJobID: job.JobID, TextID: textID, TotalSegments: len(segs)}
	for i, chunk := range chunk(segs, s.batchSize) {
		msg := queue.BatchMessage{
			RootJobID:     job.JobID,
			TextID:        textID,
			BatchNumber:   i,
			TotalSegments: len(segs),
			Segments:      make([]queue.Segment, len(chunk)),
		}
		for j, seg := range chunk {
			msg.Segments[j] = queue.Segment{
				SegmentID: seg.SegmentID,
				Span:      queue.Span{Start: seg.Span.Start, End: seg.Span.End},
			}
		}
		if err := s.publisher.PublishBatch(ctx, msg); err != nil {
			return receipt, fmt.Errorf("after %d of %d batches: %w", receipt.Batches, batchCount(len(segs), s.batchSize), err)
		}
		receipt.Batches++
	}

	s.logger.Info("root job submitted",
		"root_job_id", job.JobID,
		"text_id", textID,
		"total_segments", receipt.TotalSegments,
		"batches", receipt.Batches,
	)
	s.hub.Publish(events.JobSubmitted, job.JobID, receipt)
	return receipt, nil
}

func chunk[T any](items []T, size int) [][]T {
	out := make([][]T, 0, batchCount(len(items), size))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

func batchCount(n, size int) int {
	return (n + size - 1) / size
}
