package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"vodflow/internal/models"
)

// JSONRepository is a file-backed status store suitable for development and
// single-node deployments. The whole job table is held in memory and rewritten
// atomically after every mutation.
type JSONRepository struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	jobs map[string]models.EncodingJob
}

type jsonSnapshot struct {
	Jobs map[string]models.EncodingJob `json:"jobs"`
}

// NewJSONRepository opens or creates the JSON datastore at path.
func NewJSONRepository(path string, opts ...Option) (*JSONRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("json datastore path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare datastore directory: %w", err)
	}
	store := &JSONRepository{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
		jobs: make(map[string]models.EncodingJob),
	}
	for _, opt := range opts {
		opt.applyJSON(store)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JSONRepository) load() error {
	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open datastore %s: %w", s.path, err)
	}
	defer file.Close()

	var snapshot jsonSnapshot
	if err := json.NewDecoder(file).Decode(&snapshot); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode datastore %s: %w", s.path, err)
	}
	if snapshot.Jobs != nil {
		s.jobs = snapshot.Jobs
	}
	return nil
}

// persistLocked rewrites the datastore file. Callers must hold s.mu.
func (s *JSONRepository) persistLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "jobs-*.tmp")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(jsonSnapshot{Jobs: s.jobs}); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *JSONRepository) InsertJob(ctx context.Context, job models.EncodingJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return nil
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
	s.jobs[job.ID] = job
	if err := s.persistLocked(); err != nil {
		delete(s.jobs, job.ID)
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JSONRepository) UpdateJob(ctx context.Context, id string, update JobUpdate) (models.EncodingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.EncodingJob{}, ErrNotFound
	}
	previous := job
	if update.State != nil {
		job.State = *update.State
	}
	if update.Message != nil {
		job.Message = *update.Message
	}
	job.UpdatedAt = s.now()
	s.jobs[id] = job
	if err := s.persistLocked(); err != nil {
		s.jobs[id] = previous
		return models.EncodingJob{}, fmt.Errorf("persist job %s: %w", id, err)
	}
	return job, nil
}

func (s *JSONRepository) GetJob(ctx context.Context, id string) (models.EncodingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.EncodingJob{}, ErrNotFound
	}
	return job, nil
}

func (s *JSONRepository) ListJobsByState(ctx context.Context, states ...models.JobState) ([]models.EncodingJob, error) {
	wanted := make(map[models.JobState]struct{}, len(states))
	for _, state := range states {
		wanted[state] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []models.EncodingJob
	for _, job := range s.jobs {
		if _, ok := wanted[job.State]; ok || len(wanted) == 0 {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *JSONRepository) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

var _ Repository = (*JSONRepository)(nil)
