package usecase

import (
	"context"
	"errors"
	"net"

	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/extraction"
)

var (
	// ErrBackingStoreUnavailable is returned by every queue operation after a failed availability probe.
	ErrBackingStoreUnavailable = errors.New("job backing store unavailable")
	// ErrQueueUnavailable is returned when the store could not be written after a successful probe.
	ErrQueueUnavailable = errors.New("job queue unavailable")
	// ErrInvalidPayload marks payloads that can never be processed.
	ErrInvalidPayload = errors.New("invalid job payload")
	// ErrNoteNotFound is returned when the payload refers to a note that does not exist.
	ErrNoteNotFound = errors.New("note not found")
	// ErrWorkerClosed is returned when starting a worker on a closed runtime.
	ErrWorkerClosed = errors.New("worker closed")
	// ErrJobActive is returned by a de-duplicating Enqueue when the note already has a live job.
	ErrJobActive = errors.New("note already has an active job")
)

// ActiveJobError carries the job that holds the note. Job is nil while the
// holder is still being created by a concurrent Enqueue.
type ActiveJobError struct {
	JobID string
	Job   *entity.JobRecord
}

func (e *ActiveJobError) Error() string { return ErrJobActive.Error() + ": " + e.JobID }
func (e *ActiveJobError) Unwrap() error { return ErrJobActive }

// PermanentError marks a processor failure that must not be retried.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the worker fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryableError marks a processor failure worth retrying, such as a store blip.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so the worker retries the job with backoff.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable classifies a processor error. Explicit markers win; then inputs
// that can never succeed are terminal; then failures from the extraction
// network layer are transient. Anything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		permanent *PermanentError
		retryable *RetryableError
		netErr    net.Error
	)
	switch {
	case errors.As(err, &permanent):
		return false
	case errors.As(err, &retryable):
		return true
	case errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrNoteNotFound),
		errors.Is(err, extraction.ErrInvalidURL):
		return false
	case errors.Is(err, extraction.ErrExtractionFailed),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return true
	default:
		return false
	}
}
