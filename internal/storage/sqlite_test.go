package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if db.Dialect != SQLite {
		t.Fatalf("dialect = %v, want sqlite", db.Dialect)
	}

	for _, table := range []string{"root_jobs", "segment_mapping", "message_queue"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name); err != nil {
			t.Fatalf("table %q missing: %v", table, err)
		}
	}
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "ledger.db")
	for i := 0; i < 2; i++ {
		db, err := OpenSQLite(context.Background(), dbPath)
		if err != nil {
			t.Fatalf("OpenSQLite #%d: %v", i+1, err)
		}
		_ = db.Close()
	}
}

func TestSegmentMappingUniqueConstraint(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	now := FormatTime(time.Now())
	if _, err := db.Exec(`INSERT INTO root_jobs(job_id, text_id, total_segments, status, created_at, updated_at) VALUES('j1', 't1', 2, 'QUEUED', ?, ?)`, now, now); err != nil {
		t.Fatalf("insert root job: %v", err)
	}
	insert := `INSERT INTO segment_mapping(task_id, root_job_id, segment_id, status, created_at, updated_at) VALUES(?, 'j1', 's1', 'QUEUED', ?, ?)`
	if _, err := db.Exec(insert, "task-1", now, now); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err = db.Exec(insert, "task-2", now, now)
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "unique") {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestSegmentMappingRequiresRootJob(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	now := FormatTime(time.Now())
	_, err = db.Exec(`INSERT INTO segment_mapping(task_id, root_job_id, segment_id, status, created_at, updated_at) VALUES('t', 'missing', 's1', 'QUEUED', ?, ?)`, now, now)
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	q := "UPDATE t SET a = ?, b = ? WHERE c = ?"
	if got := SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
	want := "UPDATE t SET a = $1, b = $2 WHERE c = $3"
	if got := Postgres.Rebind(q); got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
}

func TestJSONPlaceholder(t *testing.T) {
	t.Parallel()

	if got := SQLite.JSON("?"); got != "?" {
		t.Fatalf("sqlite json = %q", got)
	}
	if got := Postgres.JSON("?"); got != "CAST(? AS JSONB)" {
		t.Fatalf("postgres json = %q", got)
	}
}

func TestTimeRoundTripAndOrdering(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC)
	later := base.Add(100 * time.Millisecond)

	a, b := FormatTime(base), FormatTime(later)
	if !(a < b) {
		t.Fatalf("expected %q < %q lexicographically", a, b)
	}
	if got := ParseTime(b); !got.Equal(later) {
		t.Fatalf("ParseTime(%q) = %v, want %v", b, got, later)
	}
	if !ParseTime("garbage").IsZero() {
		t.Fatal("expected zero time for bad input")
	}
}

func TestSQLiteDSNCarriesPragmas(t *testing.T) {
	t.Parallel()

	dsn := sqliteDSN("/tmp/ledger.db")
	for _, want := range []string{"file:/tmp/ledger.db?", "foreign_keys", "busy_timeout", "journal_mode", "_txlock=immediate"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
}
