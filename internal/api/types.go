package api

import (
	"encoding/json"
	"time"

	"github.com/mattjoyce/spanlink/internal/ledger"
	"github.com/mattjoyce/spanlink/internal/queue"
)

// JobResponse is returned by GET /jobs/{jobID}.
type JobResponse struct {
	JobID             string        `json:"job_id"`
	TextID            string        `json:"text_id"`
	Status            ledger.Status `json:"status"`
	TotalSegments     int           `json:"total_segments"`
	CompletedSegments int           `json:"completed_segments"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func jobResponse(job ledger.RootJob) JobResponse {
	return JobResponse{
		JobID:             job.JobID,
		TextID:            job.TextID,
		Status:            job.Status,
		TotalSegments:     job.TotalSegments,
		CompletedSegments: job.CompletedSegments,
		CreatedAt:         job.CreatedAt,
		UpdatedAt:         job.UpdatedAt,
	}
}

// TaskListResponse is returned by GET /jobs/{jobID}/tasks.
type TaskListResponse struct {
	RootJobID string               `json:"root_job_id"`
	Tasks     []ledger.SegmentTask `json:"tasks"`
}

// SegmentRelations is the stored resolution of one segment.
type SegmentRelations struct {
	SegmentID string          `json:"segment_id"`
	Relations json.RawMessage `json:"relations"`
}

// RelationsResponse is returned by GET /texts/{textID}/relations.
type RelationsResponse struct {
	TextID    string             `json:"text_id"`
	RootJobID string             `json:"root_job_id"`
	Segments  []SegmentRelations `json:"segments"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string       `json:"status"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Queue         *queue.Stats `json:"queue,omitempty"`
}
