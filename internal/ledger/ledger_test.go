package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spanlink/internal/storage"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

var testSpan = Span{Start: 0, End: 10}

// mustStore stores a result and reports whether it completed the task.
func mustStore(t *testing.T, l *Ledger, rootJobID, segmentID string, result any) bool {
	t.Helper()
	stored, err := l.StoreResult(context.Background(), rootJobID, segmentID, "text-A", result)
	require.NoError(t, err)
	return stored
}

// steppingClock returns a clock that advances one millisecond per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Millisecond)
		return cur
	}
}

func TestEnsureRootJobIsIdempotent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	first, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, first.Status)
	assert.Equal(t, 3, first.TotalSegments)

	second, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 99})
	require.NoError(t, err)
	assert.Equal(t, 3, second.TotalSegments, "total_segments is immutable")
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestCreateSegmentTasksSkipsExisting(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	job, err := l.CreateRootJob(ctx, "text-A", 3)
	require.NoError(t, err)

	n, err := l.CreateSegmentTasks(ctx, job.JobID, "text-A", []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.CreateSegmentTasks(ctx, job.JobID, "text-A", []string{"s2", "s3"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tasks, err := l.ListSegmentTasks(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, StatusQueued, task.Status)
		assert.Equal(t, "text-A", task.TextID)
	}

	_, err = l.CreateSegmentTasks(ctx, "missing", "text-A", []string{"s1"})
	assert.ErrorIs(t, err, ErrRootJobNotFound)
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	job, err := l.CreateRootJob(ctx, "text-A", 1)
	require.NoError(t, err)
	_, err = l.CreateSegmentTasks(ctx, job.JobID, "text-A", []string{"s1"})
	require.NoError(t, err)

	const workers = 16
	var (
		wg      sync.WaitGroup
		claimed atomic.Int32
		skipped atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Claim(ctx, job.JobID, "s1", "text-A", testSpan)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if ok {
				claimed.Add(1)
			} else {
				skipped.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed.Load())
	assert.Equal(t, int32(workers-1), skipped.Load())

	task, err := l.GetSegmentTask(ctx, job.JobID, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, task.Status)
}

func TestClaimTransitions(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 2})
	require.NoError(t, err)

	ok, err := l.Claim(ctx, "job-1", "absent", "text-A", Span{Start: 40, End: 55})
	require.NoError(t, err)
	assert.True(t, ok, "a missing task row is created in progress")

	claimed, err := l.GetSegmentTask(ctx, "job-1", "absent")
	require.NoError(t, err)
	require.NotNil(t, claimed.Span)
	assert.Equal(t, Span{Start: 40, End: 55}, *claimed.Span)

	require.NoError(t, l.MarkRetrying(ctx, "job-1", "absent", "text-A", "graph unreachable"))
	task, err := l.GetSegmentTask(ctx, "job-1", "absent")
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, task.Status)
	assert.Equal(t, "graph unreachable", task.ErrorMessage)

	ok, err = l.Claim(ctx, "job-1", "absent", "text-A", testSpan)
	require.NoError(t, err)
	assert.True(t, ok, "RETRYING tasks are claimable on redelivery")

	task, err = l.GetSegmentTask(ctx, "job-1", "absent")
	require.NoError(t, err)
	assert.Empty(t, task.ErrorMessage, "claim clears the previous error")

	mustStore(t, l, "job-1", "absent", []string{})
	ok, err = l.Claim(ctx, "job-1", "absent", "text-A", testSpan)
	require.NoError(t, err)
	assert.False(t, ok, "COMPLETED tasks are never claimed")

	_, err = l.Claim(ctx, "no-such-job", "s1", "text-A", testSpan)
	assert.ErrorIs(t, err, ErrRootJobNotFound)
}

func TestStoreResultCompletesOnce(t *testing.T) {
	l := openTestLedger(t)
	l.now = steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 1})
	require.NoError(t, err)

	result := []map[string]any{{"text_id": "text-B", "segments": []any{}}}
	assert.True(t, mustStore(t, l, "job-1", "s1", result))
	first, err := l.GetSegmentTask(ctx, "job-1", "s1")
	require.NoError(t, err)

	assert.False(t, mustStore(t, l, "job-1", "s1", []string{}), "a second store does not complete the task again")
	second, err := l.GetSegmentTask(ctx, "job-1", "s1")
	require.NoError(t, err)

	tasks, err := l.ListSegmentTasks(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1, "redelivery must not duplicate the row")

	assert.Equal(t, StatusCompleted, first.Status)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, first.TaskID, second.TaskID)
	assert.JSONEq(t, string(first.ResultJSON), string(second.ResultJSON), "the first result is kept")
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(second.ResultJSON, &decoded))
	assert.Equal(t, "text-B", decoded[0]["text_id"])
}

func TestStoreResultWithoutRootJob(t *testing.T) {
	l := openTestLedger(t)

	stored, err := l.StoreResult(context.Background(), "ghost", "s1", "text-A", []string{})
	require.Error(t, err)
	assert.False(t, stored)
	assert.True(t, errors.Is(err, ErrRootJobNotFound))
}

func TestMarkRetryingNeverRegressesCompleted(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 1})
	require.NoError(t, err)
	mustStore(t, l, "job-1", "s1", []string{})

	require.NoError(t, l.MarkRetrying(ctx, "job-1", "s1", "text-A", "late failure"))
	require.NoError(t, l.MarkFailed(ctx, "job-1", "s1", "text-A", "late failure"))

	task, err := l.GetSegmentTask(ctx, "job-1", "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Empty(t, task.ErrorMessage)
}

func TestAdvanceProgressTransitions(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 5})
	require.NoError(t, err)

	adv, err := l.AdvanceProgress(ctx, "job-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, adv.CompletedSegments)
	assert.Equal(t, StatusInProgress, adv.Status)
	assert.False(t, adv.Completed)

	adv, err = l.AdvanceProgress(ctx, "job-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, adv.CompletedSegments)
	assert.Equal(t, StatusCompleted, adv.Status)
	assert.True(t, adv.Completed)

	adv, err = l.AdvanceProgress(ctx, "job-1", 4)
	require.NoError(t, err)
	assert.Equal(t, 5, adv.CompletedSegments, "completed jobs are not incremented")
	assert.False(t, adv.Completed, "completion is observed once")

	_, err = l.AdvanceProgress(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrRootJobNotFound)

	_, err = l.AdvanceProgress(ctx, "job-1", 0)
	assert.Error(t, err)
}

func TestAdvanceProgressClampsToTotal(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 3})
	require.NoError(t, err)

	adv, err := l.AdvanceProgress(ctx, "job-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, adv.CompletedSegments)
	assert.True(t, adv.Completed)
}

func TestConcurrentAdvanceCompletesExactlyOnce(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	const callers = 20
	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: callers})
	require.NoError(t, err)

	var (
		wg          sync.WaitGroup
		completions atomic.Int32
		mu          sync.Mutex
		seen        []int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adv, err := l.AdvanceProgress(ctx, "job-1", 1)
			if err != nil {
				t.Errorf("advance: %v", err)
				return
			}
			if adv.Completed {
				completions.Add(1)
			}
			mu.Lock()
			seen = append(seen, adv.CompletedSegments)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), completions.Load())
	for _, c := range seen {
		assert.LessOrEqual(t, c, callers)
	}

	job, err := l.GetRootJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, callers, job.CompletedSegments)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestReconcileRecountsCompletedTasks(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 2})
	require.NoError(t, err)

	// Results stored but the progress update was lost.
	mustStore(t, l, "job-1", "s1", []string{})
	adv, err := l.Reconcile(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, adv.CompletedSegments)
	assert.Equal(t, StatusInProgress, adv.Status)
	assert.False(t, adv.Completed)

	adv, err = l.Reconcile(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, adv.CompletedSegments, "reconcile is a no-op when counts agree")

	mustStore(t, l, "job-1", "s2", []string{})
	adv, err = l.Reconcile(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, adv.Completed)
	assert.Equal(t, 2, adv.CompletedSegments)

	adv, err = l.Reconcile(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, adv.Completed)
}

func TestReconcileNeverLowersCounter(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 4})
	require.NoError(t, err)
	_, err = l.AdvanceProgress(ctx, "job-1", 3)
	require.NoError(t, err)

	adv, err := l.Reconcile(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, adv.CompletedSegments)
}

func TestRecoverStale(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 2})
	require.NoError(t, err)
	ok, err := l.Claim(ctx, "job-1", "s1", "text-A", testSpan)
	require.NoError(t, err)
	require.True(t, ok)

	l.now = func() time.Time { return base.Add(5 * time.Minute) }
	ok, err = l.Claim(ctx, "job-1", "s2", "text-A", testSpan)
	require.NoError(t, err)
	require.True(t, ok)

	l.now = func() time.Time { return base.Add(20 * time.Minute) }
	recovered, err := l.RecoverStale(ctx, 16*time.Minute)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "s1", recovered[0].SegmentID)
	assert.Equal(t, StatusRetrying, recovered[0].Status)
	assert.Contains(t, recovered[0].ErrorMessage, "abandoned")

	ok, err = l.Claim(ctx, "job-1", "s1", "text-A", testSpan)
	require.NoError(t, err)
	assert.True(t, ok, "recovered task can be claimed again")
}

func TestFailRootJob(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 2})
	require.NoError(t, err)

	changed, err := l.FailRootJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = l.FailRootJob(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, changed)

	active, err := l.ListActiveRootJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestReadModel(t *testing.T) {
	l := openTestLedger(t)
	l.now = steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	older, err := l.CreateRootJob(ctx, "text-A", 2)
	require.NoError(t, err)
	newer, err := l.CreateRootJob(ctx, "text-A", 2)
	require.NoError(t, err)

	latest, err := l.LatestRootJobForText(ctx, "text-A")
	require.NoError(t, err)
	assert.Equal(t, newer.JobID, latest.JobID)
	assert.NotEqual(t, older.JobID, latest.JobID)

	_, err = l.LatestRootJobForText(ctx, "text-Z")
	assert.ErrorIs(t, err, ErrRootJobNotFound)

	mustStore(t, l, newer.JobID, "s2", []string{})
	mustStore(t, l, newer.JobID, "s1", []string{})
	require.NoError(t, l.MarkRetrying(ctx, newer.JobID, "s3", "text-A", "boom"))

	ids, err := l.CompletedSegmentIDs(ctx, newer.JobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	active, err := l.ListActiveRootJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = l.GetSegmentTask(ctx, newer.JobID, "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

// A slow delivery whose claim was recovered and re-run elsewhere must not
// count its segment a second time.
func TestRecoveredClaimIsCountedOnce(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 3})
	require.NoError(t, err)

	// Delivery A claims s1 and stalls.
	ok, err := l.Claim(ctx, "job-1", "s1", "text-A", testSpan)
	require.NoError(t, err)
	require.True(t, ok)

	l.now = func() time.Time { return base.Add(20 * time.Minute) }
	recovered, err := l.RecoverStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	// Delivery B re-claims, stores and advances.
	ok, err = l.Claim(ctx, "job-1", "s1", "text-A", testSpan)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mustStore(t, l, "job-1", "s1", []string{}))
	_, err = l.AdvanceProgress(ctx, "job-1", 1)
	require.NoError(t, err)

	// Delivery A wakes up: its store finds the task already COMPLETED.
	assert.False(t, mustStore(t, l, "job-1", "s1", []string{}))

	require.True(t, mustStore(t, l, "job-1", "s2", []string{}))
	adv, err := l.AdvanceProgress(ctx, "job-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, adv.CompletedSegments)
	assert.False(t, adv.Completed, "s3 is still outstanding")

	job, err := l.GetRootJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, job.Status)
}

func TestRecoverStaleReturnsIdleRetryingTasks(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	_, err := l.EnsureRootJob(ctx, RootJobSpec{JobID: "job-1", TextID: "text-A", TotalSegments: 2})
	require.NoError(t, err)
	ok, err := l.Claim(ctx, "job-1", "s1", "text-A", Span{Start: 5, End: 9})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.MarkRetrying(ctx, "job-1", "s1", "text-A", "graph unreachable"))

	l.now = func() time.Time { return base.Add(20 * time.Minute) }
	recovered, err := l.RecoverStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, StatusRetrying, recovered[0].Status)
	assert.Equal(t, "graph unreachable", recovered[0].ErrorMessage, "the original failure is kept")
	require.NotNil(t, recovered[0].Span)
	assert.Equal(t, Span{Start: 5, End: 9}, *recovered[0].Span)

	again, err := l.RecoverStale(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "a returned task waits a full window before it is returned again")
}
