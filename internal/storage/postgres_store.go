package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vodflow/internal/models"
)

// PostgresConfig collects tuning knobs for the Postgres-backed status store.
type PostgresConfig struct {
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
	Clock               func() time.Time
}

// PostgresRepository persists status records to an encoding_jobs table so
// multiple API replicas can share job state.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	now            func() time.Time
}

const encodingJobsSchema = `
CREATE TABLE IF NOT EXISTS encoding_jobs (
    job_id      TEXT PRIMARY KEY,
    source_path TEXT NOT NULL,
    state       TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS encoding_jobs_state_idx ON encoding_jobs (state, created_at);
`

// NewPostgresRepository opens a pooled connection using the provided DSN and
// ensures the job table exists.
func NewPostgresRepository(dsn string, opts ...Option) (*PostgresRepository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	cfg := PostgresConfig{}
	for _, opt := range opts {
		opt.applyPostgres(&cfg)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &PostgresRepository{
		pool:           pool,
		acquireTimeout: cfg.AcquireTimeout,
		now:            cfg.Clock,
	}
	if repo.now == nil {
		repo.now = func() time.Time { return time.Now().UTC() }
	}

	ctx, cancel := repo.opContext(context.Background())
	defer cancel()
	if _, err := pool.Exec(ctx, encodingJobsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure encoding_jobs schema: %w", err)
	}
	return repo, nil
}

func (r *PostgresRepository) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.acquireTimeout > 0 {
		return context.WithTimeout(ctx, r.acquireTimeout)
	}
	return context.WithCancel(ctx)
}

// Close releases the connection pool, honouring the caller's deadline.
func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *PostgresRepository) InsertJob(ctx context.Context, job models.EncodingJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	now := r.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.State == "" {
		job.State = models.JobStatePending
	}
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	_, err := r.pool.Exec(opCtx, `
INSERT INTO encoding_jobs (job_id, source_path, state, message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (job_id) DO NOTHING
`, job.ID, job.SourcePath, string(job.State), job.Message, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (r *PostgresRepository) UpdateJob(ctx context.Context, id string, update JobUpdate) (models.EncodingJob, error) {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	row := r.pool.QueryRow(opCtx, `
UPDATE encoding_jobs
SET state      = COALESCE($2, state),
    message    = COALESCE($3, message),
    updated_at = $4
WHERE job_id = $1
RETURNING job_id, source_path, state, message, created_at, updated_at
`, id, stateParam(update.State), update.Message, r.now())
	job, err := scanPostgresJob(row)
	if err != nil {
		if isNoRows(err) {
			return models.EncodingJob{}, ErrNotFound
		}
		return models.EncodingJob{}, fmt.Errorf("update job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresRepository) GetJob(ctx context.Context, id string) (models.EncodingJob, error) {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	row := r.pool.QueryRow(opCtx, `
SELECT job_id, source_path, state, message, created_at, updated_at
FROM encoding_jobs
WHERE job_id = $1
`, id)
	job, err := scanPostgresJob(row)
	if err != nil {
		if isNoRows(err) {
			return models.EncodingJob{}, ErrNotFound
		}
		return models.EncodingJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresRepository) ListJobsByState(ctx context.Context, states ...models.JobState) ([]models.EncodingJob, error) {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	rows, err := r.pool.Query(opCtx, `
SELECT job_id, source_path, state, message, created_at, updated_at
FROM encoding_jobs
WHERE state = ANY($1)
ORDER BY created_at, job_id
`, stateStrings(states))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []models.EncodingJob
	for rows.Next() {
		job, err := scanPostgresJob(rows)
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

func (r *PostgresRepository) Ping(ctx context.Context) error {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	return r.pool.Ping(opCtx)
}

type pgRowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresJob(row pgRowScanner) (models.EncodingJob, error) {
	var job models.EncodingJob
	var state string
	if err := row.Scan(&job.ID, &job.SourcePath, &state, &job.Message, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.EncodingJob{}, err
	}
	job.State = models.JobState(state)
	return job, nil
}

func stateParam(state *models.JobState) *string {
	if state == nil {
		return nil
	}
	value := string(*state)
	return &value
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}

var _ Repository = (*PostgresRepository)(nil)
