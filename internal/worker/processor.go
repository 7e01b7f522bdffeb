package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mattjoyce/spanlink/internal/alignment"
	"github.com/mattjoyce/spanlink/internal/events"
	"github.com/mattjoyce/spanlink/internal/ledger"
	"github.com/mattjoyce/spanlink/internal/log"
	"github.com/mattjoyce/spanlink/internal/metrics"
	"github.com/mattjoyce/spanlink/internal/queue"
)

var tracer = otel.Tracer("spanlink.worker")

// Kind tells the transport what to do with a processed message.
type Kind int

const (
	// OK means every segment is settled; acknowledge.
	OK Kind = iota
	// Retryable means at least one segment should be tried again; redeliver.
	Retryable
	// Fatal means the message can never succeed; acknowledge and report.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the tagged result of processing one batch.
type Outcome struct {
	Kind      Kind
	Err       error
	Succeeded int
	Skipped   int
	Dropped   int
	Failed    []string
	// Completed is set when this batch moved its root job into COMPLETED.
	Completed bool
}

type segmentResult int

const (
	segmentCompleted segmentResult = iota
	segmentSkipped
	segmentDropped
	segmentFailed
)

// Options configures a Processor.
type Options struct {
	Transform bool
	Hub       *events.Hub
	Logger    *slog.Logger
}

// Processor handles one batch start-to-finish, segments in payload order.
type Processor struct {
	ledger    Ledger
	resolver  Resolver
	notifier  Notifier
	transform bool
	hub       *events.Hub
	logger    *slog.Logger
}

func NewProcessor(l Ledger, r Resolver, n Notifier, opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("worker")
	}
	return &Processor{
		ledger:    l,
		resolver:  r,
		notifier:  n,
		transform: opts.Transform,
		hub:       opts.Hub,
		logger:    logger,
	}
}

// ProcessDelivery decodes a delivery and processes it. Undecodable messages
// are Fatal.
func (p *Processor) ProcessDelivery(ctx context.Context, d queue.Delivery) Outcome {
	msg, err := queue.DecodeBatch(d.Body)
	if err != nil {
		return Outcome{Kind: Fatal, Err: err}
	}
	return p.ProcessBatch(ctx, msg, d.Final)
}

// ProcessBatch resolves and records every segment of msg. A failing segment
// never prevents the others from committing. When final is set the message
// will not be redelivered, so failures are recorded as FAILED instead of
// RETRYING and the root job is failed.
func (p *Processor) ProcessBatch(ctx context.Context, msg queue.BatchMessage, final bool) Outcome {
	ctx, span := tracer.Start(ctx, "worker.ProcessBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("root_job_id", msg.RootJobID),
		attribute.String("text_id", msg.TextID),
		attribute.Int("batch_number", msg.BatchNumber),
		attribute.Int("segments", len(msg.Segments)),
	)

	logger := log.WithRootJob(p.logger, msg.RootJobID).With("text_id", msg.TextID, "batch_number", msg.BatchNumber)
	// Bookkeeping after work has been done must land even if ctx is cancelled.
	bookkeeping := context.WithoutCancel(ctx)

	out := p.processBatch(ctx, bookkeeping, msg, final, logger)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Kind.String())
	}
	logger.Info("batch processed",
		"outcome", out.Kind.String(),
		"succeeded", out.Succeeded,
		"skipped", out.Skipped,
		"dropped", out.Dropped,
		"failed", len(out.Failed),
		"completed", out.Completed,
	)
	return out
}

func (p *Processor) processBatch(ctx, bookkeeping context.Context, msg queue.BatchMessage, final bool, logger *slog.Logger) Outcome {
	if _, err := p.ledger.EnsureRootJob(ctx, ledger.RootJobSpec{
		JobID:         msg.RootJobID,
		TextID:        msg.TextID,
		TotalSegments: msg.TotalSegments,
	}); err != nil {
		return Outcome{Kind: Retryable, Err: fmt.Errorf("ensure root job: %w", err)}
	}

	var (
		out  Outcome
		errs []error
	)
	for _, seg := range msg.Segments {
		if err := ctx.Err(); err != nil {
			// Unstarted segments stay unclaimed and are picked up on redelivery.
			errs = append(errs, err)
			break
		}

		res, err := p.processSegment(ctx, msg, seg, logger)
		switch res {
		case segmentCompleted:
			out.Succeeded++
		case segmentSkipped:
			out.Skipped++
		case segmentDropped:
			out.Dropped++
		case segmentFailed:
			out.Failed = append(out.Failed, seg.SegmentID)
			errs = append(errs, fmt.Errorf("segment %s: %w", seg.SegmentID, err))
			p.recordFailure(bookkeeping, msg, seg.SegmentID, err, final, logger)
		}
	}

	if out.Succeeded > 0 {
		adv, err := p.ledger.AdvanceProgress(bookkeeping, msg.RootJobID, out.Succeeded)
		if err != nil {
			errs = append(errs, fmt.Errorf("advance progress: %w", err))
		} else if adv.Completed {
			out.Completed = true
			logger.Info("root job completed", "completed_segments", adv.CompletedSegments, "total_segments", adv.TotalSegments)
			if err := p.notifier.NotifyCompleted(bookkeeping, msg.RootJobID, msg.TextID, adv.TotalSegments); err != nil {
				logger.Error("completion notification failed", "error", err)
			}
		}
	}

	if final && len(out.Failed) > 0 {
		failed, err := p.ledger.FailRootJob(bookkeeping, msg.RootJobID)
		if err != nil {
			logger.Error("failed to mark root job failed", "error", err)
		} else if failed {
			logger.Warn("root job failed after final delivery attempt", "failed_segments", out.Failed)
			p.hub.Publish(events.JobFailed, msg.RootJobID, map[string]any{
				"text_id":         msg.TextID,
				"failed_segments": out.Failed,
			})
		}
	}

	if len(errs) > 0 {
		out.Kind = Retryable
		out.Err = errors.Join(errs...)
	}
	return out
}

func (p *Processor) processSegment(ctx context.Context, msg queue.BatchMessage, seg queue.Segment, logger *slog.Logger) (segmentResult, error) {
	segLogger := log.WithSegment(logger, seg.SegmentID)

	claimed, err := p.ledger.Claim(ctx, msg.RootJobID, seg.SegmentID, msg.TextID, ledger.Span{Start: seg.Span.Start, End: seg.Span.End})
	if errors.Is(err, ledger.ErrRootJobNotFound) {
		segLogger.Error("root job vanished, dropping segment")
		metrics.SegmentsProcessed.WithLabelValues("dropped").Inc()
		return segmentDropped, nil
	}
	if err != nil {
		return segmentFailed, fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		// An abandoned claim is requeued by the sweeper once it goes stale.
		segLogger.Info("segment already claimed, skipping")
		metrics.SegmentsProcessed.WithLabelValues("skipped").Inc()
		return segmentSkipped, nil
	}

	start := time.Now()
	related, err := p.resolver.Resolve(ctx, msg.TextID, alignment.Span{Start: seg.Span.Start, End: seg.Span.End}, p.transform)
	metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return segmentFailed, fmt.Errorf("resolve: %w", err)
	}
	metrics.RelatedManifestations.Observe(float64(len(related)))

	stored, err := p.ledger.StoreResult(ctx, msg.RootJobID, seg.SegmentID, msg.TextID, related)
	if errors.Is(err, ledger.ErrRootJobNotFound) {
		segLogger.Error("result targets a missing root job, dropping write")
		metrics.SegmentsProcessed.WithLabelValues("dropped").Inc()
		return segmentDropped, nil
	}
	if err != nil {
		return segmentFailed, fmt.Errorf("store result: %w", err)
	}
	if !stored {
		segLogger.Info("segment completed by another delivery, not counted")
		metrics.SegmentsProcessed.WithLabelValues("skipped").Inc()
		return segmentSkipped, nil
	}

	segLogger.Debug("segment completed", "related", len(related))
	metrics.SegmentsProcessed.WithLabelValues("completed").Inc()
	p.hub.Publish(events.SegmentCompleted, msg.RootJobID, map[string]any{
		"segment_id": seg.SegmentID,
		"related":    len(related),
	})
	return segmentCompleted, nil
}

func (p *Processor) recordFailure(ctx context.Context, msg queue.BatchMessage, segmentID string, cause error, final bool, logger *slog.Logger) {
	segLogger := log.WithSegment(logger, segmentID)

	mark, status, eventType := p.ledger.MarkRetrying, "retrying", events.SegmentRetrying
	if final {
		mark, status, eventType = p.ledger.MarkFailed, "failed", events.SegmentFailed
	}

	segLogger.Warn("segment failed", "status", status, "error", cause)
	metrics.SegmentsProcessed.WithLabelValues(status).Inc()
	if err := mark(ctx, msg.RootJobID, segmentID, msg.TextID, cause.Error()); err != nil {
		if errors.Is(err, ledger.ErrRootJobNotFound) {
			segLogger.Error("root job vanished while recording failure")
			return
		}
		segLogger.Error("failed to record segment failure", "error", err)
	}
	p.hub.Publish(eventType, msg.RootJobID, map[string]any{
		"segment_id": segmentID,
		"error":      cause.Error(),
	})
}
