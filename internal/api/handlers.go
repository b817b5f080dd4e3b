// Package api exposes the HTTP surface of the encode pipeline.
package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vodflow/internal/models"
	"vodflow/internal/storage"
)

// Submitter hands new sources to the encode pipeline.
type Submitter interface {
	Submit(ctx context.Context, sourcePath string) (models.EncodingJob, error)
}

type Config struct {
	Store    storage.Repository
	Pipeline Submitter
	Logger   *slog.Logger
}

type Handler struct {
	store    storage.Repository
	pipeline Submitter
	logger   *slog.Logger
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    cfg.Store,
		pipeline: cfg.Pipeline,
		logger:   logger,
	}
}

type submitRequest struct {
	SourcePath string `json:"sourcePath"`
}

type submitResponse struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	StatusURL string `json:"statusUrl"`
}

type statusResponse struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateVideo accepts a new encode submission. The response only confirms the
// job was recorded and queued; callers poll the status URL for the outcome.
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var payload submitRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if strings.TrimSpace(payload.SourcePath) == "" {
		writeError(w, http.StatusBadRequest, errors.New("sourcePath is required"))
		return
	}

	job, err := h.pipeline.Submit(r.Context(), payload.SourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger.Error("submission rejected", "source", payload.SourcePath, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to accept submission"))
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:     job.ID,
		Status:    string(job.State),
		StatusURL: statusURL(job.ID),
	})
}

// VideoStatus reports the current state of an encode job.
func (h *Handler) VideoStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("job id is required"))
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("job %s not found", id))
			return
		}
		h.logger.Error("status lookup failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load job status"))
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		JobID:     job.ID,
		Status:    string(job.State),
		Message:   job.Message,
		UpdatedAt: job.UpdatedAt,
	})
}

// Health reports liveness of the service and its status store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("status store unreachable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"store":  "unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusURL(id string) string {
	return fmt.Sprintf("/api/videos/%s/status", id)
}
