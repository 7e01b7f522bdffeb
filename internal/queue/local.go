package queue

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/spanlink/internal/metrics"
	"github.com/mattjoyce/spanlink/internal/storage"
)

const (
	maxErrorBytes = 4 * 1024
	maxBackoff    = 5 * time.Minute
)

// LocalOptions tunes a database-backed queue.
type LocalOptions struct {
	Visibility  time.Duration
	MaxMessages int
	MaxAttempts int
}

// Local is a queue stored in the ledger database's message_queue table. A
// received message stays invisible until its visibility deadline; an ack
// deletes it and a nack schedules it again with backoff until it goes dead.
type Local struct {
	db     *storage.DB
	name   string
	opts   LocalOptions
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ Transport = (*Local)(nil)
	_ Sender    = (*Local)(nil)
)

func NewLocal(db *storage.DB, name string, opts LocalOptions, logger *slog.Logger) *Local {
	if opts.Visibility <= 0 {
		opts.Visibility = 5 * time.Minute
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		db:     db,
		name:   name,
		opts:   opts,
		now:    time.Now,
		logger: logger.With("component", "queue", "queue", name),
	}
}

// dedupeKey identifies identical pending payloads on one queue.
func dedupeKey(queueName string, body []byte) string {
	h := blake3.New()
	_, _ = h.Write([]byte(queueName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Send enqueues body unless an identical message is already pending.
func (q *Local) Send(ctx context.Context, body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("message body is empty")
	}
	now := storage.FormatTime(q.now())
	res, err := q.db.ExecContext(ctx, q.db.Rebind(`
INSERT INTO message_queue(id, queue, body, dedupe_key, attempts, max_attempts, dead, visible_at, created_at)
VALUES(?, ?, ?, ?, 0, ?, 0, ?, ?)
ON CONFLICT (queue, dedupe_key) DO NOTHING;
`), uuid.NewString(), q.name, string(body), dedupeKey(q.name, body), q.opts.MaxAttempts, now, now)
	if err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		q.logger.Debug("duplicate message ignored")
		metrics.QueueMessages.WithLabelValues("deduped").Inc()
		return nil
	}
	metrics.QueueMessages.WithLabelValues("enqueued").Inc()
	return nil
}

// Receive claims up to MaxMessages visible messages, oldest first. It
// returns an empty slice when nothing is ready.
func (q *Local) Receive(ctx context.Context) ([]Delivery, error) {
	now := q.now()
	nowS := storage.FormatTime(now)
	deadline := storage.FormatTime(now.Add(q.opts.Visibility))

	lock := ""
	if q.db.Dialect == storage.Postgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}

	rows, err := q.db.QueryContext(ctx, q.db.Rebind(`
UPDATE message_queue
SET visible_at = ?, attempts = attempts + 1
WHERE id IN (
  SELECT id FROM message_queue
  WHERE queue = ? AND dead = 0 AND visible_at <= ?
  ORDER BY created_at, id
  LIMIT ?`+lock+`
)
AND dead = 0 AND visible_at <= ?
RETURNING id, body, attempts, max_attempts;
`), deadline, q.name, nowS, q.opts.MaxMessages, nowS)
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}
	defer rows.Close()

	out := []Delivery{}
	for rows.Next() {
		var (
			d           Delivery
			body        string
			maxAttempts int
		)
		if err := rows.Scan(&d.ID, &body, &d.Attempt, &maxAttempts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		d.Body = []byte(body)
		d.Receipt = d.ID
		d.Final = d.Attempt >= maxAttempts
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	if len(out) > 0 {
		metrics.QueueMessages.WithLabelValues("received").Add(float64(len(out)))
	}
	return out, nil
}

// Ack deletes the message.
func (q *Local) Ack(ctx context.Context, d Delivery) error {
	_, err := q.db.ExecContext(ctx, q.db.Rebind(`DELETE FROM message_queue WHERE id = ? AND queue = ?;`), d.Receipt, q.name)
	if err != nil {
		return fmt.Errorf("ack message %s: %w", d.ID, err)
	}
	metrics.QueueMessages.WithLabelValues("acked").Inc()
	return nil
}

// Nack makes the message visible again after a backoff. Once it has used
// all attempts it is kept as dead for inspection and never redelivered.
func (q *Local) Nack(ctx context.Context, d Delivery, reason error) error {
	msg := ""
	if reason != nil {
		msg = reason.Error()
		if len(msg) > maxErrorBytes {
			msg = msg[:maxErrorBytes]
		}
	}
	visible := storage.FormatTime(q.now().Add(backoff(d.Attempt)))

	var dead int
	err := q.db.QueryRowContext(ctx, q.db.Rebind(`
UPDATE message_queue
SET visible_at = ?,
    last_error = ?,
    dead = CASE WHEN attempts >= max_attempts THEN 1 ELSE 0 END,
    dedupe_key = CASE WHEN attempts >= max_attempts THEN NULL ELSE dedupe_key END
WHERE id = ? AND queue = ?
RETURNING dead;
`), visible, msg, d.Receipt, q.name).Scan(&dead)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("nack message %s: not found", d.ID)
	}
	if err != nil {
		return fmt.Errorf("nack message %s: %w", d.ID, err)
	}

	if dead == 1 {
		q.logger.Warn("message is dead after final attempt", "message_id", d.ID, "attempts", d.Attempt, "error", msg)
		metrics.QueueMessages.WithLabelValues("dead").Inc()
		return nil
	}
	metrics.QueueMessages.WithLabelValues("nacked").Inc()
	return nil
}

// Stats counts the queue's ready, in-flight and dead messages.
type Stats struct {
	Ready    int `json:"ready"`
	InFlight int `json:"in_flight"`
	Dead     int `json:"dead"`
}

func (q *Local) Stats(ctx context.Context) (Stats, error) {
	now := storage.FormatTime(q.now())
	var s Stats
	err := q.db.QueryRowContext(ctx, q.db.Rebind(`
SELECT
  COALESCE(SUM(CASE WHEN dead = 0 AND visible_at <= ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN dead = 0 AND visible_at > ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN dead = 1 THEN 1 ELSE 0 END), 0)
FROM message_queue
WHERE queue = ?;
`), now, now, q.name).Scan(&s.Ready, &s.InFlight, &s.Dead)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return s, nil
}

func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		return maxBackoff
	}
	d := time.Second << (attempt - 1)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
