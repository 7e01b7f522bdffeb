package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/spanlink/internal/ledger"
	"github.com/mattjoyce/spanlink/internal/submit"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.queue != nil {
		stats, err := s.queue.Stats(r.Context())
		if err != nil {
			s.logger.Error("failed to read queue stats", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to read queue stats")
			return
		}
		resp.Queue = &stats
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSubmit handles POST /texts/{textID}/jobs.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	textID := chi.URLParam(r, "textID")

	receipt, err := s.submitter.Submit(r.Context(), textID)
	switch {
	case errors.Is(err, submit.ErrNoSegments):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil && receipt.RootJobID != "":
		// Job exists but only part of it was published.
		s.logger.Error("partial submit", "text_id", textID, "root_job_id", receipt.RootJobID, "error", err)
		respondJSON(w, http.StatusInternalServerError, struct {
			submit.Receipt
			Error string `json:"error"`
		}{receipt, err.Error()})
		return
	case err != nil:
		s.logger.Error("submit failed", "text_id", textID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit text")
		return
	}

	respondJSON(w, http.StatusAccepted, receipt)
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.jobs.GetRootJob(r.Context(), jobID)
	if err != nil {
		s.writeLedgerError(w, err, "job_id", jobID)
		return
	}
	respondJSON(w, http.StatusOK, jobResponse(job))
}

// handleListTasks handles GET /jobs/{jobID}/tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if _, err := s.jobs.GetRootJob(r.Context(), jobID); err != nil {
		s.writeLedgerError(w, err, "job_id", jobID)
		return
	}
	tasks, err := s.jobs.ListSegmentTasks(r.Context(), jobID)
	if err != nil {
		s.writeLedgerError(w, err, "job_id", jobID)
		return
	}
	if tasks == nil {
		tasks = []ledger.SegmentTask{}
	}
	respondJSON(w, http.StatusOK, TaskListResponse{RootJobID: jobID, Tasks: tasks})
}

// handleRelations handles GET /texts/{textID}/relations. Results are only
// served once the latest job for the text has COMPLETED.
func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	textID := chi.URLParam(r, "textID")

	job, err := s.jobs.LatestRootJobForText(r.Context(), textID)
	if err != nil {
		s.writeLedgerError(w, err, "text_id", textID)
		return
	}
	if job.Status != ledger.StatusCompleted {
		respondJSON(w, http.StatusConflict, struct {
			ErrorResponse
			JobResponse
		}{ErrorResponse{Error: "job not completed"}, jobResponse(job)})
		return
	}

	tasks, err := s.jobs.ListSegmentTasks(r.Context(), job.JobID)
	if err != nil {
		s.writeLedgerError(w, err, "job_id", job.JobID)
		return
	}

	resp := RelationsResponse{TextID: textID, RootJobID: job.JobID, Segments: make([]SegmentRelations, 0, len(tasks))}
	for _, task := range tasks {
		if task.Status != ledger.StatusCompleted {
			continue
		}
		rel := task.ResultJSON
		if len(rel) == 0 {
			rel = json.RawMessage("[]")
		}
		resp.Segments = append(resp.Segments, SegmentRelations{SegmentID: task.SegmentID, Relations: rel})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error, key, value string) {
	if errors.Is(err, ledger.ErrRootJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Error("ledger read failed", key, value, "error", err)
	s.writeError(w, http.StatusInternalServerError, "failed to read ledger")
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
