package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/user/note-enricher/internal/delivery/http/request"
	"github.com/user/note-enricher/internal/delivery/http/response"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/usecase"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	queue     usecase.JobQueue
	extractor usecase.Extractor
	defaults  entity.ExtractionOptions
	health    map[string]Pinger
	logger    *zap.Logger
}

func NewHandler(queue usecase.JobQueue, extractor usecase.Extractor, defaults entity.ExtractionOptions, health map[string]Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		queue:     queue,
		extractor: extractor,
		defaults:  defaults,
		health:    health,
		logger:    logger,
	}
}

func (h *Handler) HandleEnrichNote(w http.ResponseWriter, r *http.Request) {
	noteID := strings.TrimSpace(chi.URLParam(r, "noteId"))
	if noteID == "" {
		h.writeJSONError(w, "noteId is required", http.StatusBadRequest)
		return
	}
	force, err := request.ParseForce(r.URL.Query())
	if err != nil {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !force {
		existing, err := h.queue.FindActive(r.Context(), noteID)
		if err != nil {
			h.writeQueueError(w, "Failed to look up active job", noteID, err)
			return
		}
		if existing != nil {
			h.writeJSON(w, http.StatusConflict, response.EnrichResponse{
				Status:  "conflict",
				Message: "Note already has an active enrichment job",
				JobID:   existing.ID,
				Job:     existing.Status(),
			})
			return
		}
	}

	var opts []usecase.EnqueueOption
	if force {
		opts = append(opts, usecase.Replace())
	}
	rec, err := h.queue.Enqueue(r.Context(), entity.NotePayload{NoteID: noteID}, opts...)
	var activeErr *usecase.ActiveJobError
	if errors.As(err, &activeErr) {
		body := response.EnrichResponse{
			Status:  "conflict",
			Message: "Note already has an active enrichment job",
			JobID:   activeErr.JobID,
		}
		if activeErr.Job != nil {
			body.Job = activeErr.Job.Status()
		}
		h.writeJSON(w, http.StatusConflict, body)
		return
	}
	if err != nil {
		h.writeQueueError(w, "Failed to enqueue note", noteID, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, response.EnrichResponse{
		Status:  "success",
		Message: "Note queued for enrichment",
		JobID:   rec.ID,
		Job:     rec.Status(),
	})
}

func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	rec, err := h.queue.GetStatus(r.Context(), jobID)
	if err != nil {
		h.writeQueueError(w, "Failed to get job status", jobID, err)
		return
	}
	if rec == nil {
		h.writeJSONError(w, "Job not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, rec.Status())
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := response.HealthResponse{}
	healthy := true
	for name, p := range h.health {
		if err := p.Ping(ctx); err != nil {
			status[name] = "unhealthy"
			healthy = false
			h.logger.Error("health check failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		status[name] = "healthy"
	}

	if !healthy {
		h.writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) writeQueueError(w http.ResponseWriter, msg, id string, err error) {
	switch {
	case errors.Is(err, usecase.ErrInvalidPayload):
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, usecase.ErrBackingStoreUnavailable), errors.Is(err, usecase.ErrQueueUnavailable):
		h.logger.Error(msg, zap.String("id", id), zap.Error(err))
		h.writeJSONError(w, "Job queue unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error(msg, zap.String("id", id), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, response.ErrorResponse{Error: message})
}
