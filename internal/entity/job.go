package entity

import (
	"encoding/json"
	"time"
)

// JobState mirrors the worker lifecycle of a queued job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ProcessNoteJob is the job name used for note enrichment.
const ProcessNoteJob = "process-note"

// NotePayload is the minimal data the processor needs.
type NotePayload struct {
	NoteID string `json:"noteId"`
}

// Key is the logical de-duplication key of the payload.
func (p NotePayload) Key() string {
	return p.NoteID
}

// JobRecord is the durable record of one enqueued unit of work.
// Result and Error are never both set.
type JobRecord struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Payload      NotePayload     `json:"payload"`
	State        JobState        `json:"state"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	CreatedAt    time.Time       `json:"createdAt"`
	ProcessedAt  *time.Time      `json:"processedAt,omitempty"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
	NextRunAt    *time.Time      `json:"nextRunAt,omitempty"`
}

// JobStatus is the polling surface returned to clients.
type JobStatus struct {
	ID          string          `json:"id"`
	State       JobState        `json:"state"`
	Progress    int             `json:"progress"`
	Result      json.RawMessage `json:"result"`
	Error       *string         `json:"error"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
}

// Status projects the record onto the client polling shape.
func (r *JobRecord) Status() JobStatus {
	st := JobStatus{
		ID:          r.ID,
		State:       r.State,
		Progress:    r.Progress,
		Attempts:    r.AttemptsMade,
		MaxAttempts: r.MaxAttempts,
	}
	if len(r.Result) > 0 {
		st.Result = r.Result
	} else {
		st.Result = json.RawMessage("null")
	}
	if r.Error != "" {
		msg := r.Error
		st.Error = &msg
	}
	return st
}
