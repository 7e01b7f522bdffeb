package sweeper

import (
	"context"
	"time"

	"github.com/mattjoyce/spanlink/internal/ledger"
	"github.com/mattjoyce/spanlink/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_sweeper.go -package=mocks github.com/mattjoyce/spanlink/internal/sweeper Ledger,Notifier,Requeuer

// Ledger defines the ledger operations used by the sweeper.
type Ledger interface {
	RecoverStale(ctx context.Context, olderThan time.Duration) ([]ledger.SegmentTask, error)
	ListActiveRootJobs(ctx context.Context) ([]ledger.RootJob, error)
	Reconcile(ctx context.Context, rootJobID string) (ledger.Advance, error)
	GetRootJob(ctx context.Context, jobID string) (ledger.RootJob, error)
}

// Notifier emits the batch-completed event.
type Notifier interface {
	NotifyCompleted(ctx context.Context, rootJobID, textID string, totalSegments int) error
}

// Requeuer republishes recovered tasks so a worker picks them up again.
type Requeuer interface {
	PublishBatch(ctx context.Context, msg queue.BatchMessage) error
}
