package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/spanlink/internal/log"
	"github.com/mattjoyce/spanlink/internal/metrics"
	"github.com/mattjoyce/spanlink/internal/queue"
)

// Worker consumes batches from a transport and settles each delivery
// according to the processing outcome.
type Worker struct {
	id        int
	transport queue.Transport
	processor *Processor
	poll      time.Duration
	logger    *slog.Logger
}

func New(id int, t queue.Transport, p *Processor, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = time.Second
	}
	return &Worker{
		id:        id,
		transport: t,
		processor: p,
		poll:      poll,
		logger:    log.WithComponent("worker").With("worker_id", id),
	}
}

// Run blocks until ctx is cancelled. Receive errors are logged and retried
// after the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		deliveries, err := w.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("receive failed", "error", err)
			if !w.wait(ctx) {
				return nil
			}
			continue
		}
		if len(deliveries) == 0 {
			if !w.wait(ctx) {
				return nil
			}
			continue
		}

		for _, d := range deliveries {
			w.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery and acks or nacks it.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) Outcome {
	out := w.processor.ProcessDelivery(ctx, d)
	metrics.BatchesProcessed.WithLabelValues(out.Kind.String()).Inc()

	settle := context.WithoutCancel(ctx)
	logger := w.logger.With("message_id", d.ID, "attempt", d.Attempt)

	switch out.Kind {
	case OK:
		if err := w.transport.Ack(settle, d); err != nil {
			logger.Error("ack failed", "error", err)
		}
	case Fatal:
		logger.Error("discarding message that cannot succeed", "error", out.Err)
		if err := w.transport.Ack(settle, d); err != nil {
			logger.Error("ack failed", "error", err)
		}
	case Retryable:
		logger.Warn("batch will be redelivered", "error", out.Err, "final", d.Final)
		if err := w.transport.Nack(settle, d, out.Err); err != nil {
			logger.Error("nack failed", "error", err)
		}
	}
	return out
}

func (w *Worker) wait(ctx context.Context) bool {
	t := time.NewTimer(w.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
