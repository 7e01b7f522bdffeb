package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/spanlink/internal/events"
	"github.com/mattjoyce/spanlink/internal/ledger"
	"github.com/mattjoyce/spanlink/internal/queue"
	"github.com/mattjoyce/spanlink/internal/submit"
)

// JobReader is the read side of the ledger used by the API.
type JobReader interface {
	GetRootJob(ctx context.Context, jobID string) (ledger.RootJob, error)
	ListSegmentTasks(ctx context.Context, rootJobID string) ([]ledger.SegmentTask, error)
	LatestRootJobForText(ctx context.Context, textID string) (ledger.RootJob, error)
}

// Submitter starts a root job for a whole text.
type Submitter interface {
	Submit(ctx context.Context, textID string) (submit.Receipt, error)
}

// QueueStats reports inbound queue depth. Optional; SQS deployments leave it nil.
type QueueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	APIKey string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	jobs      JobReader
	submitter Submitter
	queue     QueueStats
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. stats may be nil.
func New(config Config, jobs JobReader, submitter Submitter, stats QueueStats, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		jobs:      jobs,
		submitter: submitter,
		queue:     stats,
		events:    hub,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/texts/{textID}/jobs", s.handleSubmit)
		r.Get("/texts/{textID}/relations", s.handleRelations)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/tasks", s.handleListTasks)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
