// Package store persists application records across runs. Records are keyed
// by posting fingerprint and guarantee cross-run idempotence: a posting that
// was already completed is never attempted again.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Status of one application attempt. Transitions are monotonic: a terminal
// completed record is never demoted, and only pending/failed records may be
// claimed for a new attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"
)

// ErrAlreadyClaimed is returned by Claim when another driver owns the
// fingerprint or the record is in a non-retryable state.
var ErrAlreadyClaimed = errors.New("fingerprint already claimed")

// Record is the durable attempt history for one fingerprint.
type Record struct {
	Fingerprint string
	Source      string
	Title       string
	Company     string
	URL         string
	Status      Status
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store wraps the SQLite database holding the records.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the store at path, initializing the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	// SQLite: single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS applications (
		fingerprint TEXT PRIMARY KEY,
		source      TEXT NOT NULL,
		title       TEXT,
		company     TEXT,
		url         TEXT,
		status      TEXT NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record for the fingerprint, or nil when absent.
func (s *Store) Get(ctx context.Context, fingerprint string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT fingerprint, source, title, company, url,
		status, attempts, last_error, created_at, updated_at
		FROM applications WHERE fingerprint = ?`, fingerprint)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// Upsert inserts the record or merges it into the existing row. A merge keeps
// the larger attempt count, refreshes status/error/updated_at and never
// downgrades a completed record.
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO applications
		(fingerprint, source, title, company, url, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			status     = CASE WHEN applications.status = 'completed' THEN applications.status ELSE excluded.status END,
			attempts   = MAX(applications.attempts, excluded.attempts),
			last_error = CASE WHEN applications.status = 'completed' THEN applications.last_error ELSE excluded.last_error END,
			updated_at = excluded.updated_at`,
		record.Fingerprint, record.Source, record.Title, record.Company, record.URL,
		string(record.Status), record.Attempts, record.LastError,
		record.CreatedAt.Format(time.RFC3339), record.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", record.Fingerprint, err)
	}
	return nil
}

// Claim marks the fingerprint in_progress for the calling driver. The update
// succeeds only from absent, pending or failed states; anything else returns
// ErrAlreadyClaimed so concurrent drivers skip instead of racing.
func (s *Store) Claim(ctx context.Context, record *Record) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `INSERT INTO applications
		(fingerprint, source, title, company, url, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'in_progress', 0, '', ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			status     = 'in_progress',
			updated_at = excluded.updated_at
		WHERE applications.status IN ('pending', 'failed')`,
		record.Fingerprint, record.Source, record.Title, record.Company, record.URL, now, now,
	)
	if err != nil {
		return fmt.Errorf("store: claim %s: %w", record.Fingerprint, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// Finish records the terminal outcome of a claimed attempt.
func (s *Store) Finish(ctx context.Context, fingerprint string, status Status, attempts int, lastErr string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `UPDATE applications SET
			status     = CASE WHEN status = 'completed' THEN status ELSE ? END,
			attempts   = attempts + ?,
			last_error = ?,
			updated_at = ?
		WHERE fingerprint = ?`,
		string(status), attempts, lastErr, now, fingerprint,
	)
	if err != nil {
		return fmt.Errorf("store: finish %s: %w", fingerprint, err)
	}
	return nil
}

// QueryByStatus returns all records with the given status, most recent first.
func (s *Store) QueryByStatus(ctx context.Context, status Status) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint, source, title, company, url,
		status, attempts, last_error, created_at, updated_at
		FROM applications WHERE status = ? ORDER BY updated_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("store: query by status %s: %w", status, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// EvictOlderThan drops records not updated within the retention period and
// returns how many were removed.
func (s *Store) EvictOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: evict: %w", err)
	}
	return result.RowsAffected()
}

// Retryable reports whether the fingerprint may be attempted: it must be
// absent, pending or failed.
func (s *Store) Retryable(ctx context.Context, fingerprint string) (bool, error) {
	record, err := s.Get(ctx, fingerprint)
	if err != nil {
		return false, err
	}
	if record == nil {
		return true, nil
	}
	return record.Status == StatusPending || record.Status == StatusFailed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var record Record
	var status, createdAt, updatedAt string

	if err := row.Scan(&record.Fingerprint, &record.Source, &record.Title, &record.Company,
		&record.URL, &status, &record.Attempts, &record.LastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	record.Status = Status(status)
	record.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	record.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &record, nil
}
