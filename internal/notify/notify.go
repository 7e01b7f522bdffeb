package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/spanlink/internal/config"
	"github.com/mattjoyce/spanlink/internal/events"
	"github.com/mattjoyce/spanlink/internal/metrics"
	"github.com/mattjoyce/spanlink/internal/queue"
)

// SegmentLister reads the completed segments of a root job.
type SegmentLister interface {
	CompletedSegmentIDs(ctx context.Context, rootJobID string) ([]string, error)
}

// CompletionPublisher sends the completion event downstream.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, ev queue.CompletionEvent) error
}

// Notifier emits the batch-completed event. It is invoked only by the caller
// that observed a root job's transition into COMPLETED, so a failed send is
// reported but never retried here.
type Notifier struct {
	segments  SegmentLister
	publisher CompletionPublisher
	cfg       config.NotifyConfig
	hub       *events.Hub
	logger    *slog.Logger
}

func New(segments SegmentLister, publisher CompletionPublisher, cfg config.NotifyConfig, hub *events.Hub, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		segments:  segments,
		publisher: publisher,
		cfg:       cfg,
		hub:       hub,
		logger:    logger.With("component", "notify"),
	}
}

func (n *Notifier) NotifyCompleted(ctx context.Context, rootJobID, textID string, totalSegments int) error {
	metrics.JobsCompleted.Inc()
	n.hub.Publish(events.JobCompleted, rootJobID, map[string]any{
		"text_id":        textID,
		"total_segments": totalSegments,
	})

	ids, err := n.segments.CompletedSegmentIDs(ctx, rootJobID)
	if err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		return fmt.Errorf("list completed segments: %w", err)
	}

	ev := queue.CompletionEvent{
		TextID:                 textID,
		SegmentIDs:             ids,
		TotalSegments:          totalSegments,
		SourceEnvironment:      n.cfg.SourceEnvironment,
		DestinationEnvironment: n.cfg.DestinationEnvironment,
	}
	if err := n.publisher.PublishCompletion(ctx, ev); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		return err
	}

	metrics.Notifications.WithLabelValues("sent").Inc()
	n.logger.Info("completion event sent", "root_job_id", rootJobID, "text_id", textID, "segments", len(ids))
	return nil
}
