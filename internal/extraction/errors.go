package extraction

import (
	"errors"
	"fmt"
)

var (
	// ErrExtractionFailed matches every ExtractionFailedError.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrStrategySkipped is returned by a strategy that chose not to run.
	ErrStrategySkipped = errors.New("strategy skipped")
	// ErrContentBlocked marks a fetch that hit a wall: non-2xx, anti-bot page or too little text.
	ErrContentBlocked = errors.New("content blocked")
	// ErrEmptyContent is recorded when a strategy succeeded without producing anything usable.
	ErrEmptyContent = errors.New("strategy returned no content")
	// ErrInvalidURL is the last error of an extraction whose URL could not be parsed.
	ErrInvalidURL = errors.New("invalid url")
	// ErrNoStrategy is the last error when no step of the cascade could run.
	ErrNoStrategy = errors.New("no applicable strategy")
)

// ExtractionFailedError is returned when every step of a cascade failed.
type ExtractionFailedError struct {
	URL     string
	LastErr error
}

func (e *ExtractionFailedError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("extraction failed for %s", e.URL)
	}
	return fmt.Sprintf("extraction failed for %s: %v", e.URL, e.LastErr)
}

func (e *ExtractionFailedError) Unwrap() []error {
	if e.LastErr == nil {
		return []error{ErrExtractionFailed}
	}
	return []error{ErrExtractionFailed, e.LastErr}
}

// Skip builds an ErrStrategySkipped with a reason.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", ErrStrategySkipped, reason)
}

// Blocked builds an ErrContentBlocked with a reason.
func Blocked(reason string) error {
	return fmt.Errorf("%w: %s", ErrContentBlocked, reason)
}

// PartialError is a step failure that still carries usable content, such as a
// page judged too short. The orchestrator keeps the first one and returns it
// when no later step succeeds.
type PartialError struct {
	Err     error
	Outcome *Outcome
}

func (e *PartialError) Error() string { return e.Err.Error() }

func (e *PartialError) Unwrap() error { return e.Err }
