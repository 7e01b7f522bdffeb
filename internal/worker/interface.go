package worker

import (
	"context"

	"github.com/mattjoyce/spanlink/internal/alignment"
	"github.com/mattjoyce/spanlink/internal/ledger"
)

//go:generate mockgen -destination=mocks/mock_worker.go -package=mocks github.com/mattjoyce/spanlink/internal/worker Ledger,Resolver,Notifier

// Ledger is the subset of ledger operations batch processing needs.
type Ledger interface {
	EnsureRootJob(ctx context.Context, spec ledger.RootJobSpec) (ledger.RootJob, error)
	Claim(ctx context.Context, rootJobID, segmentID, textID string, span ledger.Span) (bool, error)
	StoreResult(ctx context.Context, rootJobID, segmentID, textID string, result any) (bool, error)
	MarkRetrying(ctx context.Context, rootJobID, segmentID, textID, message string) error
	MarkFailed(ctx context.Context, rootJobID, segmentID, textID, message string) error
	AdvanceProgress(ctx context.Context, rootJobID string, n int) (ledger.Advance, error)
	FailRootJob(ctx context.Context, rootJobID string) (bool, error)
}

// Resolver computes the correspondences of one span.
type Resolver interface {
	Resolve(ctx context.Context, startText string, span alignment.Span, transform bool) ([]alignment.RelatedManifestation, error)
}

// Notifier emits the batch-completed event.
type Notifier interface {
	NotifyCompleted(ctx context.Context, rootJobID, textID string, totalSegments int) error
}
