package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/spanlink/internal/config"
	"github.com/mattjoyce/spanlink/internal/events"
	"github.com/mattjoyce/spanlink/internal/ledger"
	"github.com/mattjoyce/spanlink/internal/metrics"
	"github.com/mattjoyce/spanlink/internal/queue"
)

// requeueBatchSize caps the segments of one republished batch.
const requeueBatchSize = 100

// Sweeper returns abandoned IN_PROGRESS tasks to RETRYING, republishes them,
// and brings root job counters in line with their COMPLETED tasks. It is the
// recovery path for a worker that died holding a claim or between storing a
// result and advancing progress.
type Sweeper struct {
	cfg      config.SweeperConfig
	ledger   Ledger
	notifier Notifier
	requeuer Requeuer
	events   *events.Hub
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Report summarises one sweep.
type Report struct {
	Recovered  int
	Requeued   int
	Reconciled int
	Completed  []string
}

func New(cfg config.SweeperConfig, l Ledger, n Notifier, r Requeuer, hub *events.Hub, logger *slog.Logger) *Sweeper {
	if hub == nil {
		hub = events.NewHub(128)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	return &Sweeper{
		cfg:      cfg,
		ledger:   l,
		notifier: n,
		requeuer: r,
		events:   hub,
		logger:   logger.With("component", "sweeper"),
		stopCh:   make(chan struct{}),
	}
}

// Start sweeps once, then keeps sweeping every interval in the background.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting sweeper", "interval", s.cfg.Interval, "stale_after", s.cfg.StaleAfter)

	if _, err := s.Sweep(ctx); err != nil {
		return fmt.Errorf("initial sweep failed: %w", err)
	}

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop ends the background loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping sweeper")
		close(s.stopCh)
	})
	s.wg.Wait()
}

// Run starts the sweeper and blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Sweep failed", "error", err)
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one recovery pass. Failures for individual jobs are logged
// and joined into the returned error without stopping the pass.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	recovered, err := s.ledger.RecoverStale(ctx, s.cfg.StaleAfter)
	if err != nil {
		return report, fmt.Errorf("recover stale tasks: %w", err)
	}
	report.Recovered = len(recovered)
	if len(recovered) > 0 {
		metrics.TasksRecovered.Add(float64(len(recovered)))
		s.logger.Warn("Recovered abandoned tasks", "count", len(recovered))
		for _, task := range recovered {
			s.events.Publish(events.SweeperRecovered, task.RootJobID, map[string]any{
				"segment_id": task.SegmentID,
				"task_id":    task.TaskID,
			})
		}
	}

	var errs []error
	requeued, err := s.requeue(ctx, recovered)
	report.Requeued = requeued
	if err != nil {
		errs = append(errs, err)
	}

	jobs, err := s.ledger.ListActiveRootJobs(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list active root jobs: %w", err))
		return report, errors.Join(errs...)
	}

	for _, job := range jobs {
		adv, err := s.ledger.Reconcile(ctx, job.JobID)
		if err != nil {
			s.logger.Error("Reconcile failed", "root_job_id", job.JobID, "error", err)
			errs = append(errs, fmt.Errorf("reconcile %s: %w", job.JobID, err))
			continue
		}
		if adv.CompletedSegments != job.CompletedSegments {
			report.Reconciled++
			s.logger.Info("Reconciled root job progress",
				"root_job_id", job.JobID,
				"from", job.CompletedSegments,
				"to", adv.CompletedSegments,
			)
		}
		if !adv.Completed {
			continue
		}

		report.Completed = append(report.Completed, job.JobID)
		s.logger.Info("Root job completed during sweep", "root_job_id", job.JobID)
		if err := s.notifier.NotifyCompleted(ctx, job.JobID, job.TextID, adv.TotalSegments); err != nil {
			s.logger.Error("Completion notification failed", "root_job_id", job.JobID, "error", err)
		}
	}

	return report, errors.Join(errs...)
}

// requeue publishes recovered tasks back onto the batch queue, grouped by root
// job. A batch acked while one of its claims was held elsewhere is never
// redelivered by the transport, so this is the only way back for such a task.
func (s *Sweeper) requeue(ctx context.Context, tasks []ledger.SegmentTask) (int, error) {
	var order []string
	byJob := map[string][]queue.Segment{}
	for _, task := range tasks {
		if task.Span == nil {
			s.logger.Warn("Cannot requeue task without a span", "root_job_id", task.RootJobID, "segment_id", task.SegmentID)
			continue
		}
		if _, ok := byJob[task.RootJobID]; !ok {
			order = append(order, task.RootJobID)
		}
		byJob[task.RootJobID] = append(byJob[task.RootJobID], queue.Segment{
			SegmentID: task.SegmentID,
			Span:      queue.Span{Start: task.Span.Start, End: task.Span.End},
		})
	}

	var (
		total int
		errs  []error
	)
	for _, jobID := range order {
		job, err := s.ledger.GetRootJob(ctx, jobID)
		if err != nil {
			errs = append(errs, fmt.Errorf("requeue %s: %w", jobID, err))
			continue
		}
		if job.Status == ledger.StatusCompleted {
			continue
		}

		segs := byJob[jobID]
		sort.Slice(segs, func(i, j int) bool { return segs[i].SegmentID < segs[j].SegmentID })
		for start := 0; start < len(segs); start += requeueBatchSize {
			chunk := segs[start:min(start+requeueBatchSize, len(segs))]
			err := s.requeuer.PublishBatch(ctx, queue.BatchMessage{
				RootJobID:     job.JobID,
				TextID:        job.TextID,
				TotalSegments: job.TotalSegments,
				Segments:      chunk,
			})
			if err != nil {
				s.logger.Error("Requeue failed", "root_job_id", jobID, "error", err)
				errs = append(errs, fmt.Errorf("requeue %s: %w", jobID, err))
				break
			}
			total += len(chunk)
		}
	}

	if total > 0 {
		metrics.TasksRequeued.Add(float64(total))
		s.logger.Info("Requeued recovered tasks", "count", total)
	}
	return total, errors.Join(errs...)
}
