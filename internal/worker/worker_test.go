package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spanlink/internal/alignment"
	"github.com/mattjoyce/spanlink/internal/ledger"
	"github.com/mattjoyce/spanlink/internal/queue"
	"github.com/mattjoyce/spanlink/internal/storage"
	"github.com/mattjoyce/spanlink/internal/worker/mocks"
)

func openStack(t *testing.T) (*ledger.Ledger, *queue.Local) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "spanlink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return ledger.New(db), queue.NewLocal(db, queue.BatchQueue, queue.LocalOptions{MaxAttempts: 3}, nil)
}

func send(t *testing.T, q *queue.Local, msg any) {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, q.Send(context.Background(), body))
}

func receiveOne(t *testing.T, q *queue.Local) queue.Delivery {
	t.Helper()
	got, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0]
}

func TestHandleAcksSuccessfulBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().NotifyCompleted(gomock.Any(), "job-1", "A", 4).Return(nil)

	l, q := openStack(t)
	resolver := resolverFunc(func(context.Context, string, alignment.Span, bool) ([]alignment.RelatedManifestation, error) {
		return related("B"), nil
	})
	w := New(1, q, NewProcessor(l, resolver, notifier, Options{}), time.Millisecond)

	send(t, q, fourSegmentBatch())
	out := w.Handle(context.Background(), receiveOne(t, q))
	assert.Equal(t, OK, out.Kind)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats, "acked message is gone")
}

func TestHandleNacksRetryableBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	l, q := openStack(t)
	resolver := resolverFunc(func(context.Context, string, alignment.Span, bool) ([]alignment.RelatedManifestation, error) {
		return nil, errGraphDown
	})
	w := New(1, q, NewProcessor(l, resolver, mocks.NewMockNotifier(ctrl), Options{}), time.Millisecond)

	send(t, q, fourSegmentBatch())
	out := w.Handle(context.Background(), receiveOne(t, q))
	assert.Equal(t, Retryable, out.Kind)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{InFlight: 1}, stats, "nacked message waits out its backoff")
}

func TestHandleAcksFatalMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	l, q := openStack(t)
	w := New(1, q, NewProcessor(l, mocks.NewMockResolver(ctrl), mocks.NewMockNotifier(ctrl), Options{}), time.Millisecond)

	send(t, q, map[string]string{"hello": "world"})
	out := w.Handle(context.Background(), receiveOne(t, q))
	assert.Equal(t, Fatal, out.Kind)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats)
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	done := make(chan struct{})
	notifier.EXPECT().NotifyCompleted(gomock.Any(), "job-1", "A", 4).DoAndReturn(
		func(context.Context, string, string, int) error {
			close(done)
			return nil
		})

	l, q := openStack(t)
	resolver := resolverFunc(func(context.Context, string, alignment.Span, bool) ([]alignment.RelatedManifestation, error) {
		return related("B"), nil
	})
	w := New(1, q, NewProcessor(l, resolver, notifier, Options{}), 5*time.Millisecond)

	first := fourSegmentBatch()
	first.Segments = first.Segments[:2]
	second := fourSegmentBatch()
	second.BatchNumber = 1
	second.Segments = second.Segments[2:]
	send(t, q, first)
	send(t, q, second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	job, err := l.GetRootJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, job.Status)
}
