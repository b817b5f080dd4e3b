package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vodflow/internal/models"
	"vodflow/internal/storage"
)

type stubStore struct {
	jobs    map[string]models.EncodingJob
	pingErr error
	getErr  error
}

func (s *stubStore) InsertJob(context.Context, models.EncodingJob) error { return nil }

func (s *stubStore) UpdateJob(context.Context, string, storage.JobUpdate) (models.EncodingJob, error) {
	return models.EncodingJob{}, storage.ErrNotFound
}

func (s *stubStore) GetJob(_ context.Context, id string) (models.EncodingJob, error) {
	if s.getErr != nil {
		return models.EncodingJob{}, s.getErr
	}
	job, ok := s.jobs[id]
	if !ok {
		return models.EncodingJob{}, storage.ErrNotFound
	}
	return job, nil
}

func (s *stubStore) ListJobsByState(context.Context, ...models.JobState) ([]models.EncodingJob, error) {
	return nil, nil
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

var _ storage.Repository = (*stubStore)(nil)

type stubSubmitter struct {
	job     models.EncodingJob
	err     error
	sources []string
}

func (s *stubSubmitter) Submit(_ context.Context, sourcePath string) (models.EncodingJob, error) {
	s.sources = append(s.sources, sourcePath)
	if s.err != nil {
		return models.EncodingJob{}, s.err
	}
	return s.job, nil
}

func newTestMux(store *stubStore, submitter *stubSubmitter) *http.ServeMux {
	handler := NewHandler(Config{
		Store:    store,
		Pipeline: submitter,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/videos", handler.CreateVideo)
	mux.HandleFunc("GET /api/videos/{id}/status", handler.VideoStatus)
	mux.HandleFunc("GET /healthz", handler.Health)
	return mux
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestCreateVideoAcceptsSubmission(t *testing.T) {
	submitter := &stubSubmitter{job: models.EncodingJob{ID: "clip1-ab12cd34", State: models.JobStatePending}}
	mux := newTestMux(&stubStore{}, submitter)

	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(`{"sourcePath":"/uploads/clip1.mp4"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decodeBody(t, rec)
	if payload["jobId"] != "clip1-ab12cd34" {
		t.Fatalf("unexpected jobId %v", payload["jobId"])
	}
	if payload["status"] != "pending" {
		t.Fatalf("unexpected status %v", payload["status"])
	}
	if payload["statusUrl"] != "/api/videos/clip1-ab12cd34/status" {
		t.Fatalf("unexpected statusUrl %v", payload["statusUrl"])
	}
	if len(submitter.sources) != 1 || submitter.sources[0] != "/uploads/clip1.mp4" {
		t.Fatalf("unexpected submitted sources %v", submitter.sources)
	}
}

func TestCreateVideoRejectsBadRequests(t *testing.T) {
	cases := map[string]string{
		"empty body":    ``,
		"missing path":  `{}`,
		"blank path":    `{"sourcePath":"  "}`,
		"unknown field": `{"sourcePath":"/a.mp4","format":"hls"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			mux := newTestMux(&stubStore{}, &stubSubmitter{})
			req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestCreateVideoMapsMissingSourceToBadRequest(t *testing.T) {
	submitter := &stubSubmitter{err: fs.ErrNotExist}
	mux := newTestMux(&stubStore{}, submitter)

	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(`{"sourcePath":"/uploads/gone.mp4"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing source, got %d", rec.Code)
	}
}

func TestCreateVideoHidesInternalErrors(t *testing.T) {
	submitter := &stubSubmitter{err: errors.New("pgx: connection refused")}
	mux := newTestMux(&stubStore{}, submitter)

	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(`{"sourcePath":"/uploads/clip.mp4"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "pgx") {
		t.Fatalf("internal error leaked to client: %s", rec.Body.String())
	}
}

func TestVideoStatusReturnsJobRecord(t *testing.T) {
	updatedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &stubStore{jobs: map[string]models.EncodingJob{
		"clip1-ab12cd34": {
			ID:        "clip1-ab12cd34",
			State:     models.JobStateFailed,
			Message:   "bad codec",
			UpdatedAt: updatedAt,
		},
	}}
	mux := newTestMux(store, &stubSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/api/videos/clip1-ab12cd34/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeBody(t, rec)
	if payload["status"] != "failed" {
		t.Fatalf("unexpected status %v", payload["status"])
	}
	if payload["message"] != "bad codec" {
		t.Fatalf("unexpected message %v", payload["message"])
	}
}

func TestVideoStatusUnknownJobReturns404(t *testing.T) {
	mux := newTestMux(&stubStore{}, &stubSubmitter{})

	req := httptest.NewRequest(http.MethodGet, "/api/videos/nope/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthReflectsStoreState(t *testing.T) {
	mux := newTestMux(&stubStore{}, &stubSubmitter{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	degraded := newTestMux(&stubStore{pingErr: errors.New("connection reset")}, &stubSubmitter{})
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when store is down, got %d", rec.Code)
	}
}
