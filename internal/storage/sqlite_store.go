package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vodflow/internal/models"
)

// SQLiteConfig collects tuning knobs for the SQLite-backed status store.
type SQLiteConfig struct {
	BusyTimeout time.Duration
	Clock       func() time.Time
}

// SQLiteRepository persists status records to a local SQLite database. It is a
// middle ground between the JSON file store and a full Postgres deployment.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

const jobColumns = "job_id, source_path, state, message, created_at, updated_at"

// NewSQLiteRepository opens or creates the database at path and applies the
// schema and pragmas.
func NewSQLiteRepository(path string, opts ...Option) (*SQLiteRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite datastore path is required")
	}
	cfg := SQLiteConfig{BusyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt.applySQLite(&cfg)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare datastore directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS encoding_jobs (
    job_id      TEXT PRIMARY KEY,
    source_path TEXT NOT NULL,
    state       TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure encoding_jobs table: %w", err)
	}

	store := &SQLiteRepository{db: db, now: cfg.Clock}
	if store.now == nil {
		store.now = func() time.Time { return time.Now().UTC() }
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *SQLiteRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteRepository) InsertJob(ctx context.Context, job models.EncodingJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.State == "" {
		job.State = models.JobStatePending
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO encoding_jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (job_id) DO NOTHING
`, job.ID, job.SourcePath, string(job.State), job.Message,
		job.CreatedAt.Format(time.RFC3339Nano), job.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteRepository) UpdateJob(ctx context.Context, id string, update JobUpdate) (models.EncodingJob, error) {
	_, err := s.db.ExecContext(ctx, `
UPDATE encoding_jobs
SET state      = COALESCE(?, state),
    message    = COALESCE(?, message),
    updated_at = ?
WHERE job_id = ?
`, stateParam(update.State), update.Message, s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return models.EncodingJob{}, fmt.Errorf("update job %s: %w", id, err)
	}
	return s.GetJob(ctx, id)
}

func (s *SQLiteRepository) GetJob(ctx context.Context, id string) (models.EncodingJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM encoding_jobs WHERE job_id = ?`, id)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EncodingJob{}, ErrNotFound
	}
	if err != nil {
		return models.EncodingJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteRepository) ListJobsByState(ctx context.Context, states ...models.JobState) ([]models.EncodingJob, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	args := make([]any, 0, len(states))
	for _, state := range stateStrings(states) {
		args = append(args, state)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM encoding_jobs WHERE state IN (`+placeholders+`) ORDER BY created_at, job_id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []models.EncodingJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteRepository) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqlRowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row sqlRowScanner) (models.EncodingJob, error) {
	var job models.EncodingJob
	var state, createdAt, updatedAt string
	if err := row.Scan(&job.ID, &job.SourcePath, &state, &job.Message, &createdAt, &updatedAt); err != nil {
		return models.EncodingJob{}, err
	}
	job.State = models.JobState(state)
	var err error
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return models.EncodingJob{}, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return models.EncodingJob{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return job, nil
}

var _ Repository = (*SQLiteRepository)(nil)
