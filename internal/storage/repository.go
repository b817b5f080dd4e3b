package storage

import (
	"context"
	"errors"

	"vodflow/internal/models"
)

// ErrNotFound is returned when a job lookup or update targets an unknown id.
var ErrNotFound = errors.New("job not found")

// JobUpdate describes a partial update to a status record. Nil fields are left
// untouched; UpdatedAt is refreshed on every applied update.
type JobUpdate struct {
	State   *models.JobState
	Message *string
}

// Repository is the durable status store consumed by the encoding pipeline.
// InsertJob is idempotent: inserting an id that already exists is a no-op so
// retried submissions never fail on the record write.
type Repository interface {
	InsertJob(ctx context.Context, job models.EncodingJob) error
	UpdateJob(ctx context.Context, id string, update JobUpdate) (models.EncodingJob, error)
	GetJob(ctx context.Context, id string) (models.EncodingJob, error)
	ListJobsByState(ctx context.Context, states ...models.JobState) ([]models.EncodingJob, error)
	Ping(ctx context.Context) error
}

func stateStrings(states []models.JobState) []string {
	out := make([]string, 0, len(states))
	for _, state := range states {
		out = append(out, string(state))
	}
	return out
}
