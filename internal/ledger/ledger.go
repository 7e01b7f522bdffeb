package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/spanlink/internal/storage"
)

// Ledger persists root jobs and their segment tasks. Every mutation is one
// statement whose status precondition is evaluated by the database.
type Ledger struct {
	db  *storage.DB
	now func() time.Time
}

func New(db *storage.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

func (l *Ledger) stamp() string {
	return storage.FormatTime(l.now())
}

// EnsureRootJob inserts the root job as QUEUED unless it already exists, then
// returns the stored row.
func (l *Ledger) EnsureRootJob(ctx context.Context, spec RootJobSpec) (RootJob, error) {
	if strings.TrimSpace(spec.JobID) == "" {
		return RootJob{}, fmt.Errorf("root job id is empty")
	}
	if spec.TotalSegments < 0 {
		return RootJob{}, fmt.Errorf("total_segments must not be negative")
	}

	now := l.stamp()
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
INSERT INTO root_jobs(job_id, text_id, total_segments, completed_segments, status, created_at, updated_at)
VALUES(?, ?, ?, 0, 'QUEUED', ?, ?)
ON CONFLICT (job_id) DO NOTHING;
`), spec.JobID, spec.TextID, spec.TotalSegments, now, now)
	if err != nil {
		return RootJob{}, fmt.Errorf("ensure root job: %w", err)
	}
	return l.GetRootJob(ctx, spec.JobID)
}

// CreateRootJob starts a new root job for textID with a fresh id.
func (l *Ledger) CreateRootJob(ctx context.Context, textID string, totalSegments int) (RootJob, error) {
	if strings.TrimSpace(textID) == "" {
		return RootJob{}, fmt.Errorf("text id is empty")
	}
	if totalSegments < 0 {
		return RootJob{}, fmt.Errorf("total_segments must not be negative")
	}

	now := l.now().UTC()
	nowS := storage.FormatTime(now)
	job := RootJob{
		JobID:         uuid.NewString(),
		TextID:        textID,
		TotalSegments: totalSegments,
		Status:        StatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
INSERT INTO root_jobs(job_id, text_id, total_segments, completed_segments, status, created_at, updated_at)
VALUES(?, ?, ?, 0, 'QUEUED', ?, ?);
`), job.JobID, textID, totalSegments, nowS, nowS)
	if err != nil {
		return RootJob{}, fmt.Errorf("insert root job: %w", err)
	}
	return job, nil
}

// CreateSegmentTasks inserts QUEUED tasks for segmentIDs, skipping any that
// already exist. It returns how many rows were created.
func (l *Ledger) CreateSegmentTasks(ctx context.Context, rootJobID, textID string, segmentIDs []string) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, l.db.Rebind(`
INSERT INTO segment_mapping(task_id, root_job_id, text_id, segment_id, status, created_at, updated_at)
SELECT ?, job_id, ?, ?, 'QUEUED', ?, ? FROM root_jobs WHERE job_id = ?
ON CONFLICT (root_job_id, segment_id) DO NOTHING;
`))
	if err != nil {
		return 0, fmt.Errorf("prepare task insert: %w", err)
	}
	defer stmt.Close()

	now := l.stamp()
	created := 0
	for _, segmentID := range segmentIDs {
		res, err := stmt.ExecContext(ctx, uuid.NewString(), nullString(textID), segmentID, now, now, rootJobID)
		if err != nil {
			return 0, fmt.Errorf("insert task %q: %w", segmentID, err)
		}
		n, _ := res.RowsAffected()
		created += int(n)
	}

	if created == 0 && len(segmentIDs) > 0 {
		if _, err := getRootJob(ctx, tx, l.db.Dialect, rootJobID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return created, nil
}

// Claim moves the task for (rootJobID, segmentID) into IN_PROGRESS if it is
// QUEUED or RETRYING, creating it IN_PROGRESS if absent. The span is kept on
// the row so an abandoned claim can be requeued. A false result means another
// delivery already owns or finished the task.
func (l *Ledger) Claim(ctx context.Context, rootJobID, segmentID, textID string, span Span) (bool, error) {
	now := l.stamp()
	res, err := l.db.ExecContext(ctx, l.db.Rebind(`
INSERT INTO segment_mapping(task_id, root_job_id, text_id, segment_id, status, span_start, span_end, created_at, updated_at)
SELECT ?, job_id, ?, ?, 'IN_PROGRESS', CAST(? AS INTEGER), CAST(? AS INTEGER), ?, ? FROM root_jobs WHERE job_id = ?
ON CONFLICT (root_job_id, segment_id) DO UPDATE
SET status = 'IN_PROGRESS',
    error_message = NULL,
    text_id = COALESCE(segment_mapping.text_id, excluded.text_id),
    span_start = excluded.span_start,
    span_end = excluded.span_end,
    updated_at = excluded.updated_at
WHERE segment_mapping.status IN ('QUEUED', 'RETRYING');
`), uuid.NewString(), nullString(textID), segmentID, span.Start, span.End, now, now, rootJobID)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := l.GetRootJob(ctx, rootJobID); err != nil {
		return false, err
	}
	return false, nil
}

// StoreResult upserts the computed correspondence for a segment as COMPLETED.
// It reports true only for the call that moved the task into COMPLETED; a
// later store for the same segment leaves the row untouched and reports false,
// so each segment is counted toward progress once. ErrRootJobNotFound is
// returned when the owning root job does not exist; nothing is written then.
func (l *Ledger) StoreResult(ctx context.Context, rootJobID, segmentID, textID string, result any) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}

	now := l.stamp()
	res, err := l.db.ExecContext(ctx, l.db.Rebind(fmt.Sprintf(`
INSERT INTO segment_mapping(task_id, root_job_id, text_id, segment_id, status, result_json, created_at, updated_at)
SELECT ?, job_id, ?, ?, 'COMPLETED', %s, ?, ? FROM root_jobs WHERE job_id = ?
ON CONFLICT (root_job_id, segment_id) DO UPDATE
SET status = 'COMPLETED',
    result_json = excluded.result_json,
    error_message = NULL,
    text_id = COALESCE(excluded.text_id, segment_mapping.text_id),
    updated_at = excluded.updated_at
WHERE segment_mapping.status <> 'COMPLETED';
`, l.db.Dialect.JSON("?"))), uuid.NewString(), nullString(textID), segmentID, string(payload), now, now, rootJobID)
	if err != nil {
		return false, fmt.Errorf("store result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store result rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := l.GetRootJob(ctx, rootJobID); err != nil {
		return false, fmt.Errorf("store result for %s/%s: %w", rootJobID, segmentID, err)
	}
	return false, nil
}

// MarkRetrying records a transient failure. COMPLETED tasks are left alone.
func (l *Ledger) MarkRetrying(ctx context.Context, rootJobID, segmentID, textID, message string) error {
	return l.markFailure(ctx, StatusRetrying, rootJobID, segmentID, textID, message)
}

// MarkFailed records a permanent failure. COMPLETED tasks are left alone.
func (l *Ledger) MarkFailed(ctx context.Context, rootJobID, segmentID, textID, message string) error {
	return l.markFailure(ctx, StatusFailed, rootJobID, segmentID, textID, message)
}

func (l *Ledger) markFailure(ctx context.Context, status Status, rootJobID, segmentID, textID, message string) error {
	now := l.stamp()
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
INSERT INTO segment_mapping(task_id, root_job_id, text_id, segment_id, status, error_message, created_at, updated_at)
SELECT ?, job_id, ?, ?, ?, ?, ?, ? FROM root_jobs WHERE job_id = ?
ON CONFLICT (root_job_id, segment_id) DO UPDATE
SET status = excluded.status,
    error_message = excluded.error_message,
    updated_at = excluded.updated_at
WHERE segment_mapping.status <> 'COMPLETED';
`), uuid.NewString(), nullString(textID), segmentID, string(status), message, now, now, rootJobID)
	if err != nil {
		return fmt.Errorf("mark task %s: %w", strings.ToLower(string(status)), err)
	}
	return nil
}

// AdvanceProgress adds n to the root job's completed count and recomputes its
// status in the same statement. Jobs already COMPLETED are not touched, so
// exactly one caller sees Advance.Completed for a given job.
func (l *Ledger) AdvanceProgress(ctx context.Context, rootJobID string, n int) (Advance, error) {
	if n <= 0 {
		return Advance{}, fmt.Errorf("advance progress by %d: count must be positive", n)
	}

	row := l.db.QueryRowContext(ctx, l.db.Rebind(`
UPDATE root_jobs
SET completed_segments = CASE
      WHEN completed_segments + ? > total_segments THEN total_segments
      ELSE completed_segments + ?
    END,
    status = CASE
      WHEN completed_segments + ? >= total_segments THEN 'COMPLETED'
      WHEN status = 'QUEUED' THEN 'IN_PROGRESS'
      ELSE status
    END,
    updated_at = ?
WHERE job_id = ? AND status <> 'COMPLETED'
RETURNING completed_segments, total_segments, status;
`), n, n, n, l.stamp(), rootJobID)

	return l.scanAdvance(ctx, row, rootJobID)
}

// Reconcile recounts COMPLETED tasks and raises the job's counter to match,
// applying the same completion transition as AdvanceProgress. The counter only
// moves forward.
func (l *Ledger) Reconcile(ctx context.Context, rootJobID string) (Advance, error) {
	const done = `(SELECT COUNT(*) FROM segment_mapping
      WHERE segment_mapping.root_job_id = root_jobs.job_id AND segment_mapping.status = 'COMPLETED')`

	row := l.db.QueryRowContext(ctx, l.db.Rebind(fmt.Sprintf(`
UPDATE root_jobs
SET completed_segments = CASE
      WHEN %[1]s > total_segments THEN total_segments
      ELSE %[1]s
    END,
    status = CASE
      WHEN %[1]s >= total_segments THEN 'COMPLETED'
      WHEN status = 'QUEUED' THEN 'IN_PROGRESS'
      ELSE status
    END,
    updated_at = ?
WHERE job_id = ? AND status <> 'COMPLETED'
  AND (%[1]s > completed_segments OR (%[1]s >= total_segments AND completed_segments >= total_segments))
RETURNING completed_segments, total_segments, status;
`, done)), l.stamp(), rootJobID)

	return l.scanAdvance(ctx, row, rootJobID)
}

func (l *Ledger) scanAdvance(ctx context.Context, row *sql.Row, rootJobID string) (Advance, error) {
	adv := Advance{RootJobID: rootJobID}
	var status string
	err := row.Scan(&adv.CompletedSegments, &adv.TotalSegments, &status)
	if err == nil {
		adv.Status = Status(status)
		adv.Completed = adv.Status == StatusCompleted
		return adv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Advance{}, fmt.Errorf("advance root job: %w", err)
	}

	// No row changed: either the job is missing or nothing was left to do.
	job, err := l.GetRootJob(ctx, rootJobID)
	if err != nil {
		return Advance{}, err
	}
	adv.CompletedSegments = job.CompletedSegments
	adv.TotalSegments = job.TotalSegments
	adv.Status = job.Status
	return adv, nil
}

// FailRootJob marks a root job FAILED unless it already finished.
func (l *Ledger) FailRootJob(ctx context.Context, rootJobID string) (bool, error) {
	res, err := l.db.ExecContext(ctx, l.db.Rebind(`
UPDATE root_jobs SET status = 'FAILED', updated_at = ?
WHERE job_id = ? AND status NOT IN ('COMPLETED', 'FAILED');
`), l.stamp(), rootJobID)
	if err != nil {
		return false, fmt.Errorf("fail root job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// RecoverStale moves IN_PROGRESS tasks untouched for longer than olderThan to
// RETRYING so a redelivery can claim them again. RETRYING tasks idle for as
// long are returned too: no delivery is coming for them. Returned tasks have
// their updated_at refreshed, so each is reported once per window.
func (l *Ledger) RecoverStale(ctx context.Context, olderThan time.Duration) ([]SegmentTask, error) {
	now := l.now()
	cutoff := storage.FormatTime(now.Add(-olderThan))
	msg := fmt.Sprintf("claim abandoned: no progress for %s", olderThan)

	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
UPDATE segment_mapping
SET status = 'RETRYING',
    error_message = CASE WHEN status = 'IN_PROGRESS' THEN ? ELSE error_message END,
    updated_at = ?
WHERE status IN ('IN_PROGRESS', 'RETRYING') AND updated_at < ?
RETURNING `+taskColumns+`;
`), msg, storage.FormatTime(now), cutoff)
	if err != nil {
		return nil, fmt.Errorf("recover stale tasks: %w", err)
	}
	return scanTasks(rows)
}

// GetRootJob returns one root job by id.
func (l *Ledger) GetRootJob(ctx context.Context, jobID string) (RootJob, error) {
	return getRootJob(ctx, l.db, l.db.Dialect, jobID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRootJob(ctx context.Context, q queryRower, d storage.Dialect, jobID string) (RootJob, error) {
	row := q.QueryRowContext(ctx, d.Rebind(`
SELECT `+jobColumns+` FROM root_jobs WHERE job_id = ?;
`), jobID)
	job, err := scanRootJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RootJob{}, fmt.Errorf("root job %q: %w", jobID, ErrRootJobNotFound)
	}
	return job, err
}

// LatestRootJobForText returns the most recently created root job for textID.
func (l *Ledger) LatestRootJobForText(ctx context.Context, textID string) (RootJob, error) {
	row := l.db.QueryRowContext(ctx, l.db.Rebind(`
SELECT `+jobColumns+` FROM root_jobs WHERE text_id = ?
ORDER BY created_at DESC LIMIT 1;
`), textID)
	job, err := scanRootJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RootJob{}, fmt.Errorf("root job for text %q: %w", textID, ErrRootJobNotFound)
	}
	return job, err
}

// ListActiveRootJobs returns jobs that have not reached a terminal status.
func (l *Ledger) ListActiveRootJobs(ctx context.Context) ([]RootJob, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT `+jobColumns+` FROM root_jobs
WHERE status IN ('QUEUED', 'IN_PROGRESS')
ORDER BY created_at ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list active root jobs: %w", err)
	}
	defer rows.Close()

	var jobs []RootJob
	for rows.Next() {
		job, err := scanRootJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetSegmentTask returns the task for one segment of a root job.
func (l *Ledger) GetSegmentTask(ctx context.Context, rootJobID, segmentID string) (SegmentTask, error) {
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
SELECT `+taskColumns+` FROM segment_mapping WHERE root_job_id = ? AND segment_id = ?;
`), rootJobID, segmentID)
	if err != nil {
		return SegmentTask{}, fmt.Errorf("get segment task: %w", err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return SegmentTask{}, err
	}
	if len(tasks) == 0 {
		return SegmentTask{}, fmt.Errorf("segment %s/%s: %w", rootJobID, segmentID, ErrTaskNotFound)
	}
	return tasks[0], nil
}

// ListSegmentTasks returns every task of a root job ordered by segment id.
func (l *Ledger) ListSegmentTasks(ctx context.Context, rootJobID string) ([]SegmentTask, error) {
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
SELECT `+taskColumns+` FROM segment_mapping WHERE root_job_id = ?
ORDER BY segment_id ASC;
`), rootJobID)
	if err != nil {
		return nil, fmt.Errorf("list segment tasks: %w", err)
	}
	return scanTasks(rows)
}

// CompletedSegmentIDs returns the ids of COMPLETED tasks ordered by segment id.
func (l *Ledger) CompletedSegmentIDs(ctx context.Context, rootJobID string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
SELECT segment_id FROM segment_mapping
WHERE root_job_id = ? AND status = 'COMPLETED'
ORDER BY segment_id ASC;
`), rootJobID)
	if err != nil {
		return nil, fmt.Errorf("list completed segments: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan segment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const (
	jobColumns  = `job_id, text_id, total_segments, completed_segments, status, created_at, updated_at`
	taskColumns = `task_id, root_job_id, text_id, segment_id, status, span_start, span_end, result_json, error_message, created_at, updated_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanRootJob(s scanner) (RootJob, error) {
	var (
		job                  RootJob
		status               string
		createdAt, updatedAt string
	)
	err := s.Scan(&job.JobID, &job.TextID, &job.TotalSegments, &job.CompletedSegments, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RootJob{}, err
	}
	if err != nil {
		return RootJob{}, fmt.Errorf("scan root job: %w", err)
	}
	job.Status = Status(status)
	job.CreatedAt = storage.ParseTime(createdAt)
	job.UpdatedAt = storage.ParseTime(updatedAt)
	return job, nil
}

func scanTasks(rows *sql.Rows) ([]SegmentTask, error) {
	defer rows.Close()

	var tasks []SegmentTask
	for rows.Next() {
		var (
			t                    SegmentTask
			textID, result, msg  sql.NullString
			spanStart, spanEnd   sql.NullInt64
			status               string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&t.TaskID, &t.RootJobID, &textID, &t.SegmentID, &status, &spanStart, &spanEnd, &result, &msg, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan segment task: %w", err)
		}
		t.Status = Status(status)
		t.TextID = textID.String
		if spanStart.Valid && spanEnd.Valid {
			t.Span = &Span{Start: int(spanStart.Int64), End: int(spanEnd.Int64)}
		}
		if result.Valid {
			t.ResultJSON = json.RawMessage(result.String)
		}
		t.ErrorMessage = msg.String
		t.CreatedAt = storage.ParseTime(createdAt)
		t.UpdatedAt = storage.ParseTime(updatedAt)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment tasks: %w", err)
	}
	return tasks, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
