package adapter

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	m "github.com/mouse-blink/autocov/internal/model"

	_ "modernc.org/sqlite"
)

// IterationLog persists iteration records for later inspection. It is
// observational: the loop never reads it back.
type IterationLog interface {
	Append(projectKey string, rec m.IterationRecord) error
	Load(projectKey string) ([]m.IterationRecord, error)
	Close() error
}

const (
	sqliteDriver    = "sqlite"
	maxLogAttempts  = 5
	iterationSchema = `
CREATE TABLE IF NOT EXISTS iterations (
  project_key TEXT NOT NULL,
  run_id TEXT NOT NULL,
  number INTEGER NOT NULL,
  coverage_before REAL NOT NULL,
  coverage_after REAL NOT NULL,
  targets INTEGER NOT NULL,
  accepted INTEGER NOT NULL,
  rejected INTEGER NOT NULL,
  rejections TEXT NOT NULL DEFAULT '{}',
  generation_failures INTEGER NOT NULL DEFAULT 0,
  failure_reasons TEXT NOT NULL DEFAULT '{}',
  started_at_utc TEXT NOT NULL,
  finished_at_utc TEXT NOT NULL,
  PRIMARY KEY (project_key, run_id, number)
);
CREATE INDEX IF NOT EXISTS idx_iterations_started ON iterations(project_key, started_at_utc);
`
)

// SQLiteIterationLog stores records in a single-file SQLite database.
type SQLiteIterationLog struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

// OpenIterationLog opens (creating if needed) the database at path.
func OpenIterationLog(path string) (*SQLiteIterationLog, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("iteration log path must not be empty")
	}

	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("iteration log path %q is a directory, expected file", cleanPath)
	}

	if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create iteration log directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)", cleanPath)

	db, err := sql.Open(sqliteDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open iteration log %q: %w", cleanPath, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(iterationSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize iteration log schema %q: %w", cleanPath, err)
	}

	return &SQLiteIterationLog{path: cleanPath, db: db}, nil
}

// Path returns the database file.
func (l *SQLiteIterationLog) Path() string {
	return l.path
}

// Close releases the database.
func (l *SQLiteIterationLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}

	return l.db.Close()
}

// Append stores rec; re-appending the same run and number overwrites it.
func (l *SQLiteIterationLog) Append(projectKey string, rec m.IterationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rejections, err := json.Marshal(rec.Rejections)
	if err != nil {
		return fmt.Errorf("encode rejections: %w", err)
	}

	failures, err := json.Marshal(rec.FailureReasons)
	if err != nil {
		return fmt.Errorf("encode failure reasons: %w", err)
	}

	query := `
INSERT INTO iterations (
  project_key, run_id, number, coverage_before, coverage_after, targets, accepted, rejected,
  rejections, generation_failures, failure_reasons, started_at_utc, finished_at_utc
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(project_key, run_id, number) DO UPDATE SET
  coverage_before=excluded.coverage_before,
  coverage_after=excluded.coverage_after,
  targets=excluded.targets,
  accepted=excluded.accepted,
  rejected=excluded.rejected,
  rejections=excluded.rejections,
  generation_failures=excluded.generation_failures,
  failure_reasons=excluded.failure_reasons,
  started_at_utc=excluded.started_at_utc,
  finished_at_utc=excluded.finished_at_utc
`

	return l.withRetry("append iteration", func() error {
		_, err := l.db.Exec(query,
			projectKey,
			rec.RunID,
			rec.Number,
			rec.CoverageBefore,
			rec.CoverageAfter,
			rec.Targets,
			rec.Accepted,
			rec.Rejected,
			string(rejections),
			rec.GenerationFailures,
			string(failures),
			rec.StartedAt.UTC().Format(time.RFC3339Nano),
			rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		)

		return err
	})
}

// Load returns every record of projectKey, oldest first.
func (l *SQLiteIterationLog) Load(projectKey string) ([]m.IterationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	query := `
SELECT run_id, number, coverage_before, coverage_after, targets, accepted, rejected,
  rejections, generation_failures, failure_reasons, started_at_utc, finished_at_utc
FROM iterations
WHERE project_key = ?
ORDER BY started_at_utc ASC, run_id ASC, number ASC
`

	var rows *sql.Rows

	err := l.withRetry("load iterations", func() error {
		var qErr error

		rows, qErr = l.db.Query(query, projectKey)

		return qErr
	})
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	records := make([]m.IterationRecord, 0)

	for rows.Next() {
		var (
			rec         m.IterationRecord
			rejections  string
			failures    string
			startedRaw  string
			finishedRaw string
		)

		if err := rows.Scan(
			&rec.RunID,
			&rec.Number,
			&rec.CoverageBefore,
			&rec.CoverageAfter,
			&rec.Targets,
			&rec.Accepted,
			&rec.Rejected,
			&rejections,
			&rec.GenerationFailures,
			&failures,
			&startedRaw,
			&finishedRaw,
		); err != nil {
			return nil, fmt.Errorf("scan iteration row: %w", err)
		}

		if err := json.Unmarshal([]byte(rejections), &rec.Rejections); err != nil {
			return nil, fmt.Errorf("decode rejections: %w", err)
		}

		if err := json.Unmarshal([]byte(failures), &rec.FailureReasons); err != nil {
			return nil, fmt.Errorf("decode failure reasons: %w", err)
		}

		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedRaw); err != nil {
			return nil, fmt.Errorf("parse start timestamp %q: %w", startedRaw, err)
		}

		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedRaw); err != nil {
			return nil, fmt.Errorf("parse finish timestamp %q: %w", finishedRaw, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate iteration rows: %w", err)
	}

	return records, nil
}

func (l *SQLiteIterationLog) withRetry(op string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= maxLogAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if !isLockError(err) || attempt == maxLogAttempts {
			break
		}

		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}

	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// NopIterationLog discards records; used when history is disabled.
type NopIterationLog struct{}

// Append discards rec.
func (NopIterationLog) Append(string, m.IterationRecord) error { return nil }

// Load returns nothing.
func (NopIterationLog) Load(string) ([]m.IterationRecord, error) { return nil, nil }

// Close does nothing.
func (NopIterationLog) Close() error { return nil }
