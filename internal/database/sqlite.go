package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// sqliteSchema mirrors migrations/ for single-node deployments without PostgreSQL.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS exams (
	id                 TEXT PRIMARY KEY,
	title              TEXT NOT NULL,
	passing_score      INTEGER NOT NULL,
	time_limit_seconds INTEGER NOT NULL,
	attempts_allowed   INTEGER NOT NULL DEFAULT 0,
	questions          TEXT NOT NULL,
	policy             TEXT NOT NULL,
	updated_at         TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS exam_sessions (
	id                  TEXT PRIMARY KEY,
	exam_id             TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	attempt_number      INTEGER NOT NULL,
	configuration       TEXT NOT NULL,
	passing_score       INTEGER NOT NULL,
	state               TEXT NOT NULL,
	disposition         TEXT NOT NULL DEFAULT '',
	started_at          TEXT NOT NULL,
	deadline            TEXT NOT NULL,
	finished_at         TEXT,
	randomization_seed  INTEGER NOT NULL,
	cumulative_severity INTEGER NOT NULL DEFAULT 0,
	review_required     INTEGER NOT NULL DEFAULT 0,
	drafts              TEXT NOT NULL DEFAULT '{}',
	answers             TEXT,
	score               INTEGER,
	outcome             TEXT NOT NULL DEFAULT '',
	cancel_reason       TEXT NOT NULL DEFAULT '',
	reviewed_by         TEXT NOT NULL DEFAULT '',
	review_note         TEXT NOT NULL DEFAULT '',
	questions           TEXT NOT NULL DEFAULT '[]'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_exam_sessions_live_attempt
	ON exam_sessions (exam_id, user_id, attempt_number)
	WHERE state IN ('CREATED', 'ACTIVE');

CREATE TABLE IF NOT EXISTS security_events (
	session_id  TEXT NOT NULL REFERENCES exam_sessions(id) ON DELETE CASCADE,
	event_id    TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	severity    INTEGER NOT NULL,
	sequence    INTEGER NOT NULL,
	reported_at TEXT,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (session_id, event_id)
);

CREATE TABLE IF NOT EXISTS certificate_requests (
	session_id   TEXT PRIMARY KEY,
	exam_id      TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	score        INTEGER NOT NULL,
	requested_at TEXT NOT NULL
);
`

// NewSQLiteDB opens the SQLite database at path and applies the schema.
func NewSQLiteDB(ctx context.Context, path string, log zerolog.Logger) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	log.Info().
		Str("path", path).
		Msg("SQLite connected")

	return db, nil
}
