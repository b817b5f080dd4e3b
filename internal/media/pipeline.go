package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vodflow/internal/models"
	"vodflow/internal/observability/metrics"
	"vodflow/internal/publish"
	"vodflow/internal/storage"
	"vodflow/internal/transcode"
)

type PipelineConfig struct {
	Store       storage.Repository
	Engine      transcode.Engine
	Publisher   publish.Publisher
	QueueSize   int
	KeyPrefix   string
	RecoverJobs bool
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// Pipeline accepts encode submissions and drains them with a single worker
// goroutine, so jobs complete in the order they were submitted. A failure in
// one job is recorded on its status record and never stops the worker.
type Pipeline struct {
	store       storage.Repository
	engine      transcode.Engine
	publisher   publish.Publisher
	keyPrefix   string
	recoverJobs bool
	logger      *slog.Logger
	metrics     *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	queue chan Job
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
}

const (
	defaultQueueSize   = 64
	defaultKeyPrefix   = "videos"
	statusWriteTimeout = 10 * time.Second
)

func NewPipeline(cfg PipelineConfig) *Pipeline {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	keyPrefix := strings.Trim(strings.TrimSpace(cfg.KeyPrefix), "/")
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:       cfg.Store,
		engine:      cfg.Engine,
		publisher:   cfg.Publisher,
		keyPrefix:   keyPrefix,
		recoverJobs: cfg.RecoverJobs,
		logger:      logger,
		metrics:     cfg.Metrics,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan Job, queueSize),
	}
}

func (p *Pipeline) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.worker()

	if p.recoverJobs {
		go p.recoverPending()
	}
}

func (p *Pipeline) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit records a new pending job and hands it to the encode queue. It
// returns as soon as the status record is written; it never waits for the
// worker. Record-write and queue-capacity errors surface to the caller.
func (p *Pipeline) Submit(ctx context.Context, sourcePath string) (models.EncodingJob, error) {
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return models.EncodingJob{}, fmt.Errorf("source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return models.EncodingJob{}, fmt.Errorf("resolve source path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return models.EncodingJob{}, fmt.Errorf("source file unavailable: %w", err)
	}

	now := time.Now().UTC()
	job := models.EncodingJob{
		ID:         NewJobID(DeriveJobName(absPath)),
		SourcePath: absPath,
		State:      models.JobStatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.store.InsertJob(ctx, job); err != nil {
		return models.EncodingJob{}, fmt.Errorf("record job: %w", err)
	}

	if err := p.enqueue(Job{ID: job.ID, SourcePath: job.SourcePath}); err != nil {
		p.markState(job.ID, models.JobStateFailed, err.Error())
		return models.EncodingJob{}, err
	}
	p.logger.Info("job submitted", "job_id", job.ID, "source", absPath)
	return job, nil
}

func (p *Pipeline) enqueue(job Job) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pipeline is shutting down")
	default:
	}
	select {
	case p.queue <- job:
		p.metrics.JobEnqueued()
		p.metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		return fmt.Errorf("encode queue is full")
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			p.metrics.SetQueueDepth(len(p.queue))
			if strings.TrimSpace(job.ID) == "" {
				continue
			}
			p.process(job)
		}
	}
}

func (p *Pipeline) process(job Job) {
	started := time.Now()
	p.metrics.JobStarted()
	p.markState(job.ID, models.JobStateProcessing, "")

	outputDir, err := p.engine.Transcode(p.ctx, job.ID, job.SourcePath)
	if err != nil {
		p.failJob(job.ID, err)
		p.metrics.JobFailed(time.Since(started))
		return
	}

	uploaded := 0
	if p.publisher != nil {
		p.metrics.ObservePublishAttempt()
		uploaded, err = p.publisher.PublishAll(p.ctx, outputDir, p.keyPrefix+"/"+job.ID)
		if err != nil {
			p.metrics.ObservePublishFailure()
			if removeErr := os.RemoveAll(outputDir); removeErr != nil {
				p.logger.Warn("failed to remove unpublished renditions", "job_id", job.ID, "error", removeErr)
			}
			p.failJob(job.ID, err)
			p.metrics.JobFailed(time.Since(started))
			return
		}
	}

	if err := os.Remove(job.SourcePath); err != nil {
		p.logger.Warn("failed to remove source file", "job_id", job.ID, "error", err)
	}
	if err := os.RemoveAll(outputDir); err != nil {
		p.logger.Warn("failed to remove local renditions", "job_id", job.ID, "error", err)
	}

	p.markState(job.ID, models.JobStateReady, "")
	p.metrics.JobCompleted(time.Since(started))
	p.logger.Info("job ready", "job_id", job.ID, "uploads", uploaded, "duration_ms", time.Since(started).Milliseconds())
}

func (p *Pipeline) failJob(id string, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = "encode failed"
	}
	p.markState(id, models.JobStateFailed, message)
	p.logger.Error("job failed", "job_id", id, "error", err)
}

// markState writes a status transition with a fresh context so shutdown does
// not lose the final state of an in-flight job. Write failures are logged and
// swallowed; the worker keeps going.
func (p *Pipeline) markState(id string, state models.JobState, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	update := storage.JobUpdate{State: &state, Message: &message}
	if _, err := p.store.UpdateJob(ctx, id, update); err != nil {
		p.logger.Error("failed to update job state", "job_id", id, "state", string(state), "error", err)
	}
}

// recoverPending re-enqueues records left pending or processing by an earlier
// run. Records whose source file is gone are marked failed instead.
func (p *Pipeline) recoverPending() {
	ctx, cancel := context.WithTimeout(p.ctx, statusWriteTimeout)
	defer cancel()
	jobs, err := p.store.ListJobsByState(ctx, models.JobStatePending, models.JobStateProcessing)
	if err != nil {
		p.logger.Error("failed to list interrupted jobs", "error", err)
		return
	}
	for _, job := range jobs {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		if _, err := os.Stat(job.SourcePath); err != nil {
			p.markState(job.ID, models.JobStateFailed, "source file missing")
			continue
		}
		if job.State == models.JobStateProcessing {
			p.markState(job.ID, models.JobStatePending, "")
		}
		if err := p.enqueue(Job{ID: job.ID, SourcePath: job.SourcePath}); err != nil {
			p.logger.Warn("failed to requeue interrupted job", "job_id", job.ID, "error", err)
			continue
		}
		p.logger.Info("job requeued after restart", "job_id", job.ID)
	}
}
