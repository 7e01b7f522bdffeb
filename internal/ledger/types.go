package ledger

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is shared by root jobs and segment tasks. RETRYING only applies to tasks.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRetrying   Status = "RETRYING"
)

var (
	ErrRootJobNotFound = errors.New("root job not found")
	ErrTaskNotFound    = errors.New("segment task not found")
)

// RootJob is one batch of segment-resolution work.
type RootJob struct {
	JobID             string    `json:"job_id"`
	TextID            string    `json:"text_id"`
	TotalSegments     int       `json:"total_segments"`
	CompletedSegments int       `json:"completed_segments"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Done reports whether the job reached a terminal status.
func (j RootJob) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// SegmentTask is the per-segment unit of work and its persisted outcome.
type SegmentTask struct {
	TaskID       string          `json:"task_id"`
	RootJobID    string          `json:"root_job_id"`
	TextID       string          `json:"text_id,omitempty"`
	SegmentID    string          `json:"segment_id"`
	Status       Status          `json:"status"`
	Span         *Span           `json:"span,omitempty"`
	ResultJSON   json.RawMessage `json:"result_json,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Span is the half-open character range of a claimed segment.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// RootJobSpec identifies a root job announced by an inbound batch.
type RootJobSpec struct {
	JobID         string
	TextID        string
	TotalSegments int
}

// Advance is the post-update view of a root job after a progress change.
// Completed is true only for the caller whose update moved the job into COMPLETED.
type Advance struct {
	RootJobID         string
	CompletedSegments int
	TotalSegments     int
	Status            Status
	Completed         bool
}
