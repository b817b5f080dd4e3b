package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vodflow/internal/models"
)

func openJSONStore(t *testing.T) Repository {
	t.Helper()
	store, err := NewJSONRepository(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository error: %v", err)
	}
	return store
}

func openSQLiteStore(t *testing.T) Repository {
	t.Helper()
	store, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close sqlite store: %v", err)
		}
	})
	return store
}

func repositoryDrivers() map[string]func(*testing.T) Repository {
	return map[string]func(*testing.T) Repository{
		"json":   openJSONStore,
		"sqlite": openSQLiteStore,
	}
}

func TestRepositoryInsertIsIdempotent(t *testing.T) {
	for name, open := range repositoryDrivers() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			job := models.EncodingJob{ID: "clip-abc123", SourcePath: "/tmp/clip.mp4", State: models.JobStatePending}
			if err := store.InsertJob(ctx, job); err != nil {
				t.Fatalf("InsertJob error: %v", err)
			}
			processing := models.JobStateProcessing
			if _, err := store.UpdateJob(ctx, job.ID, JobUpdate{State: &processing}); err != nil {
				t.Fatalf("UpdateJob error: %v", err)
			}

			// A second insert for the same id must not reset the record.
			if err := store.InsertJob(ctx, job); err != nil {
				t.Fatalf("repeat InsertJob error: %v", err)
			}
			got, err := store.GetJob(ctx, job.ID)
			if err != nil {
				t.Fatalf("GetJob error: %v", err)
			}
			if got.State != models.JobStateProcessing {
				t.Fatalf("expected state processing after repeat insert, got %s", got.State)
			}
		})
	}
}

func TestRepositoryUpdateRefreshesTimestamp(t *testing.T) {
	for name, open := range repositoryDrivers() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			if err := store.InsertJob(ctx, models.EncodingJob{ID: "clip-1", SourcePath: "/tmp/a.mp4"}); err != nil {
				t.Fatalf("InsertJob error: %v", err)
			}
			before, err := store.GetJob(ctx, "clip-1")
			if err != nil {
				t.Fatalf("GetJob error: %v", err)
			}

			time.Sleep(5 * time.Millisecond)
			failed := models.JobStateFailed
			message := "bad codec"
			updated, err := store.UpdateJob(ctx, "clip-1", JobUpdate{State: &failed, Message: &message})
			if err != nil {
				t.Fatalf("UpdateJob error: %v", err)
			}
			if updated.State != models.JobStateFailed || updated.Message != "bad codec" {
				t.Fatalf("unexpected record after update: %+v", updated)
			}
			if !updated.UpdatedAt.After(before.UpdatedAt) {
				t.Fatalf("expected updated_at to advance: before=%s after=%s", before.UpdatedAt, updated.UpdatedAt)
			}
			if !updated.CreatedAt.Equal(before.CreatedAt) {
				t.Fatalf("created_at must not change on update")
			}
		})
	}
}

func TestRepositoryNotFound(t *testing.T) {
	for name, open := range repositoryDrivers() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound from GetJob, got %v", err)
			}
			ready := models.JobStateReady
			if _, err := store.UpdateJob(ctx, "missing", JobUpdate{State: &ready}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound from UpdateJob, got %v", err)
			}
		})
	}
}

func TestRepositoryListJobsByState(t *testing.T) {
	for name, open := range repositoryDrivers() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

			records := []models.EncodingJob{
				{ID: "b", SourcePath: "/tmp/b.mp4", State: models.JobStatePending, CreatedAt: base.Add(2 * time.Second)},
				{ID: "a", SourcePath: "/tmp/a.mp4", State: models.JobStateProcessing, CreatedAt: base},
				{ID: "c", SourcePath: "/tmp/c.mp4", State: models.JobStateReady, CreatedAt: base.Add(time.Second)},
			}
			for _, record := range records {
				if err := store.InsertJob(ctx, record); err != nil {
					t.Fatalf("InsertJob %s error: %v", record.ID, err)
				}
			}

			jobs, err := store.ListJobsByState(ctx, models.JobStatePending, models.JobStateProcessing)
			if err != nil {
				t.Fatalf("ListJobsByState error: %v", err)
			}
			if len(jobs) != 2 {
				t.Fatalf("expected 2 jobs, got %d", len(jobs))
			}
			if jobs[0].ID != "a" || jobs[1].ID != "b" {
				t.Fatalf("expected creation order [a b], got [%s %s]", jobs[0].ID, jobs[1].ID)
			}
		})
	}
}

func TestJSONRepositoryReloadsFromDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.json")

	store, err := NewJSONRepository(path)
	if err != nil {
		t.Fatalf("NewJSONRepository error: %v", err)
	}
	if err := store.InsertJob(ctx, models.EncodingJob{ID: "clip-1", SourcePath: "/tmp/a.mp4"}); err != nil {
		t.Fatalf("InsertJob error: %v", err)
	}
	failed := models.JobStateFailed
	message := "network timeout"
	if _, err := store.UpdateJob(ctx, "clip-1", JobUpdate{State: &failed, Message: &message}); err != nil {
		t.Fatalf("UpdateJob error: %v", err)
	}

	reopened, err := NewJSONRepository(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	job, err := reopened.GetJob(ctx, "clip-1")
	if err != nil {
		t.Fatalf("GetJob after reopen error: %v", err)
	}
	if job.State != models.JobStateFailed || job.Message != "network timeout" {
		t.Fatalf("unexpected record after reopen: %+v", job)
	}
}
