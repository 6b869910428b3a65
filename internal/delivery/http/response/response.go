package response

import "github.com/user/note-enricher/internal/entity"

// EnrichResponse is returned by the enrich endpoint, both on 202 and on 409.
type EnrichResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	JobID   string           `json:"job_id"`
	Job     entity.JobStatus `json:"job"`
}

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StreamError is the payload of the terminal SSE error event.
type StreamError struct {
	Message string `json:"message"`
}

// HealthResponse maps each dependency to "healthy" or "unhealthy".
type HealthResponse map[string]string
