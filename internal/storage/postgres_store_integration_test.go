package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"vodflow/internal/models"
)

func openPostgresStore(t *testing.T) *PostgresRepository {
	t.Helper()
	dsn := os.Getenv("VODFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VODFLOW_TEST_POSTGRES_DSN not set")
	}
	store, err := NewPostgresRepository(dsn, WithPostgresAcquireTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("NewPostgresRepository error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(ctx); err != nil {
			t.Errorf("close postgres store: %v", err)
		}
	})
	return store
}

func TestPostgresRepositoryLifecycle(t *testing.T) {
	store := openPostgresStore(t)
	ctx := context.Background()
	id := "it-" + uuid.NewString()

	if err := store.InsertJob(ctx, models.EncodingJob{ID: id, SourcePath: "/tmp/clip.mp4"}); err != nil {
		t.Fatalf("InsertJob error: %v", err)
	}
	if err := store.InsertJob(ctx, models.EncodingJob{ID: id, SourcePath: "/tmp/other.mp4"}); err != nil {
		t.Fatalf("repeat InsertJob error: %v", err)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if job.State != models.JobStatePending || job.SourcePath != "/tmp/clip.mp4" {
		t.Fatalf("unexpected inserted record: %+v", job)
	}

	failed := models.JobStateFailed
	message := "bad codec"
	updated, err := store.UpdateJob(ctx, id, JobUpdate{State: &failed, Message: &message})
	if err != nil {
		t.Fatalf("UpdateJob error: %v", err)
	}
	if updated.State != models.JobStateFailed || updated.Message != "bad codec" {
		t.Fatalf("unexpected record after update: %+v", updated)
	}

	if _, err := store.GetJob(ctx, "it-"+uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
