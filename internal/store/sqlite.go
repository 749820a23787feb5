package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/docpipe/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    priority     INTEGER NOT NULL,
    status       TEXT NOT NULL,
    output       BLOB,
    error        TEXT,
    attempts     INTEGER NOT NULL,
    duration_ms  INTEGER NOT NULL,
    heap_bytes   INTEGER NOT NULL,
    cpu_seconds  REAL NOT NULL,
    submitted_at DATETIME NOT NULL,
    finished_at  DATETIME NOT NULL
)`

const createFinishedAtIndex = `
CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs (finished_at DESC)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

// NewSQLiteStore opens the SQLite database at dbPath and runs
// migrations. historyLimit caps how many records are retained; when a
// new record pushes the count past it, the oldest records by finish
// time are pruned. Zero means unbounded.
func NewSQLiteStore(dbPath string, historyLimit int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	if _, err := db.Exec(createFinishedAtIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("create finished_at index: %w", err)
	}

	return &SQLiteStore{db: db, limit: historyLimit}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordTerminal upserts one terminal job record and prunes history
// past the retention limit. Resubmitting a finished job ID replaces
// the earlier record.
func (s *SQLiteStore) RecordTerminal(ctx context.Context, rec *model.JobRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs (
			id, type, priority, status, output, error,
			attempts, duration_ms, heap_bytes, cpu_seconds,
			submitted_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Priority, rec.Status, rec.Output, rec.Error,
		rec.Attempts, rec.DurationMS, rec.HeapBytes, rec.CPUSeconds,
		rec.SubmittedAt, rec.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert job record: %w", err)
	}

	if s.limit > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM jobs WHERE id IN (
				SELECT id FROM jobs ORDER BY finished_at DESC LIMIT -1 OFFSET ?
			)`, s.limit,
		); err != nil {
			return fmt.Errorf("prune job records: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetJob retrieves a job record by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	rec := &model.JobRecord{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, priority, status, output, error,
			attempts, duration_ms, heap_bytes, cpu_seconds,
			submitted_at, finished_at
		FROM jobs WHERE id = ?`, id,
	).Scan(
		&rec.ID, &rec.Kind, &rec.Priority, &rec.Status, &rec.Output, &rec.Error,
		&rec.Attempts, &rec.DurationMS, &rec.HeapBytes, &rec.CPUSeconds,
		&rec.SubmittedAt, &rec.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job record: %w", err)
	}
	return rec, nil
}

// CountByStatus returns how many retained records hold each terminal
// status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status model.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// ListJobs returns a paginated list of job records ordered by
// finished_at DESC, along with the total count of retained records.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.JobRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count job records: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, type, priority, status, output, error,
			attempts, duration_ms, heap_bytes, cpu_seconds,
			submitted_at, finished_at
		FROM jobs ORDER BY finished_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list job records: %w", err)
	}
	defer rows.Close()

	var records []*model.JobRecord
	for rows.Next() {
		rec := &model.JobRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.Kind, &rec.Priority, &rec.Status, &rec.Output, &rec.Error,
			&rec.Attempts, &rec.DurationMS, &rec.HeapBytes, &rec.CPUSeconds,
			&rec.SubmittedAt, &rec.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan job record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate job records: %w", err)
	}

	return records, total, nil
}
