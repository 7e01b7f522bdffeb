package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/spanlink/internal/alignment"
	"github.com/mattjoyce/spanlink/internal/api"
	"github.com/mattjoyce/spanlink/internal/cache"
	"github.com/mattjoyce/spanlink/internal/config"
	"github.com/mattjoyce/spanlink/internal/events"
	"github.com/mattjoyce/spanlink/internal/graph"
	"github.com/mattjoyce/spanlink/internal/ledger"
	"github.com/mattjoyce/spanlink/internal/log"
	"github.com/mattjoyce/spanlink/internal/notify"
	"github.com/mattjoyce/spanlink/internal/queue"
	"github.com/mattjoyce/spanlink/internal/storage"
	"github.com/mattjoyce/spanlink/internal/submit"
	"github.com/mattjoyce/spanlink/internal/sweeper"
	"github.com/mattjoyce/spanlink/internal/worker"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("spanlink starting", "version", version, "config", cfg.SourceFile, "environment", cfg.Service.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer a.Close()

	logger.Info("spanlink running (press Ctrl+C to stop)",
		"workers", cfg.Worker.Concurrency,
		"transport", cfg.Queue.Transport,
		"ledger", cfg.Ledger.Driver,
		"cache", cfg.Cache.Backend,
	)
	if err := a.Run(ctx); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("spanlink stopped")
	return 0
}

// app holds the long-lived components of one process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	ledger    *ledger.Ledger
	graph     *graph.Client
	hub       *events.Hub
	inbound   queue.Transport
	stats     api.QueueStats
	processor *worker.Processor
	sweeper   *sweeper.Sweeper
	submitter *submit.Submitter

	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, logger: log.WithComponent("main"), hub: events.NewHub(0)}

	db, err := storage.Open(ctx, cfg.Ledger, log.WithComponent("storage"))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	a.ledger = ledger.New(db)

	transports, err := a.openTransports(ctx, db)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.inbound = transports.inbound
	a.stats = transports.stats
	publisher := queue.NewPublisher(transports.batches, transports.completions)

	kv, err := cache.Open(cfg.Cache, log.WithComponent("cache"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.closers = append(a.closers, kv.Close)

	a.graph = graph.New(cfg.Graph, log.WithComponent("graph"))
	a.closers = append(a.closers, a.graph.Close)
	if err := a.graph.Ping(ctx); err != nil {
		// The driver is created on first use, so a later call may still succeed.
		a.logger.Warn("alignment graph not reachable yet", "uri", cfg.Graph.URI, "error", err)
	}

	gw := alignment.NewCachedGateway(a.graph, kv, cfg.Cache.TTL, log.WithComponent("alignment"))
	engine := alignment.NewEngine(gw, log.WithComponent("alignment"))
	notifier := notify.New(a.ledger, publisher, cfg.Notify, a.hub, log.WithComponent("notify"))

	a.processor = worker.NewProcessor(a.ledger, engine, notifier, worker.Options{
		Transform: cfg.Graph.Transform,
		Hub:       a.hub,
		Logger:    log.WithComponent("processor"),
	})
	a.sweeper = sweeper.New(cfg.Sweeper, a.ledger, notifier, publisher, a.hub, log.WithComponent("sweeper"))
	a.submitter = submit.New(a.graph, a.ledger, publisher, cfg.Queue.BatchSize, a.hub, log.WithComponent("submit"))
	return a, nil
}

type transports struct {
	inbound     queue.Transport
	batches     queue.Sender
	completions queue.Sender
	stats       api.QueueStats
}

func (a *app) openTransports(ctx context.Context, ledgerDB *storage.DB) (transports, error) {
	qc := a.cfg.Queue
	logger := log.WithComponent("queue")

	switch qc.Transport {
	case "sqs":
		client, err := queue.NewSQSClient(ctx, qc.Region)
		if err != nil {
			return transports{}, err
		}
		inbound := queue.NewSQS(client, qc.InboundURL, qc, logger)
		return transports{
			inbound:     inbound,
			batches:     inbound,
			completions: queue.NewSQS(client, qc.CompletedURL, qc, logger),
		}, nil

	case "local":
		db := ledgerDB
		if a.cfg.Ledger.Driver != "sqlite" || qc.Path != a.cfg.Ledger.Path {
			var err error
			db, err = storage.OpenSQLite(ctx, qc.Path)
			if err != nil {
				return transports{}, fmt.Errorf("open local queue: %w", err)
			}
			a.closers = append(a.closers, db.Close)
		}
		opts := queue.LocalOptions{
			Visibility:  qc.VisibilityTimeout,
			MaxMessages: int(qc.MaxMessages),
			MaxAttempts: qc.MaxAttempts,
		}
		inbound := queue.NewLocal(db, queue.BatchQueue, opts, logger)
		return transports{
			inbound:     inbound,
			batches:     inbound,
			completions: queue.NewLocal(db, queue.CompletedQueue, opts, logger),
			stats:       inbound,
		}, nil

	default:
		return transports{}, fmt.Errorf("unknown queue transport %q", qc.Transport)
	}
}

// Run blocks until ctx is cancelled or a component fails.
func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < a.cfg.Worker.Concurrency; i++ {
		w := worker.New(i, a.inbound, a.processor, a.cfg.Worker.PollInterval)
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error {
		if err := a.sweeper.Run(gctx); err != nil {
			return fmt.Errorf("sweeper: %w", err)
		}
		return nil
	})

	if a.cfg.API.Enabled {
		srv := api.New(api.Config{Listen: a.cfg.API.Listen, APIKey: a.cfg.API.APIKey},
			a.ledger, a.submitter, a.stats, a.hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	}

	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, a.cfg.Metrics.Listen, a.logger) })
	}

	return g.Wait()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func serveMetrics(ctx context.Context, listen string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener starting", "listen", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics: %w", err)
	}
}
