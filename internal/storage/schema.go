package storage

import (
	"context"
	"fmt"
)

// Bootstrap creates tables/indexes if missing.
func Bootstrap(ctx context.Context, db *DB) error {
	jsonType := "TEXT"
	if db.Dialect == Postgres {
		jsonType = "JSONB"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS root_jobs (
  job_id             TEXT PRIMARY KEY,
  text_id            TEXT NOT NULL,
  total_segments     INTEGER NOT NULL CHECK (total_segments >= 0),
  completed_segments INTEGER NOT NULL DEFAULT 0 CHECK (completed_segments >= 0),
  status             TEXT NOT NULL,
  created_at         TEXT NOT NULL,
  updated_at         TEXT NOT NULL
);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS segment_mapping (
  task_id       TEXT PRIMARY KEY,
  root_job_id   TEXT NOT NULL REFERENCES root_jobs(job_id) ON DELETE CASCADE,
  text_id       TEXT,
  segment_id    TEXT NOT NULL,
  status        TEXT NOT NULL,
  span_start    INTEGER,
  span_end      INTEGER,
  result_json   %s,
  error_message TEXT,
  created_at    TEXT NOT NULL,
  updated_at    TEXT NOT NULL,
  CONSTRAINT uq_segment_mapping_root_job_segment UNIQUE (root_job_id, segment_id)
);`, jsonType),
		`CREATE TABLE IF NOT EXISTS message_queue (
  id           TEXT PRIMARY KEY,
  queue        TEXT NOT NULL,
  body         TEXT NOT NULL,
  dedupe_key   TEXT,
  attempts     INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL,
  dead         INTEGER NOT NULL DEFAULT 0,
  visible_at   TEXT NOT NULL,
  last_error   TEXT,
  created_at   TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS root_jobs_text_created_idx ON root_jobs(text_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS root_jobs_status_idx ON root_jobs(status);`,
		`CREATE INDEX IF NOT EXISTS segment_mapping_status_updated_idx ON segment_mapping(status, updated_at);`,
		`CREATE INDEX IF NOT EXISTS message_queue_ready_idx ON message_queue(queue, dead, visible_at);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS message_queue_dedupe_idx ON message_queue(queue, dedupe_key);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap %s: %w", db.Dialect, err)
		}
	}
	return nil
}
