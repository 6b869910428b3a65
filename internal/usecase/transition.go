package usecase

import (
	"encoding/json"
	"time"

	"github.com/user/note-enricher/internal/entity"
)

// RetryPolicy bounds retries of failed jobs.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultRetryPolicy is three attempts with backoff starting at 5s, capped at 5m.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffBase: 5 * time.Second, BackoffCap: 5 * time.Minute}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = d.BackoffBase
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = d.BackoffCap
	}
	return p
}

// Backoff returns the delay before the retry that follows the given attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

// Outcome is the result of one processor invocation.
type Outcome struct {
	Result    json.RawMessage
	Err       error
	Retryable bool
}

// Decision names the transition applied to a job.
type Decision string

const (
	DecisionCompleted Decision = "completed"
	DecisionRetry     Decision = "retrying"
	DecisionFailed    Decision = "failed"
	// DecisionIgnored means the record was already terminal and is returned unchanged.
	DecisionIgnored Decision = "ignored"
)

// Transition computes the next record after an attempt. It is pure: the caller
// persists the returned record.
func Transition(rec entity.JobRecord, out Outcome, now time.Time, policy RetryPolicy) (entity.JobRecord, Decision) {
	if rec.State.Terminal() {
		return rec, DecisionIgnored
	}
	policy = policy.withDefaults()
	if rec.MaxAttempts <= 0 {
		rec.MaxAttempts = policy.MaxAttempts
	}

	rec.AttemptsMade++
	rec.NextRunAt = nil

	if out.Err == nil {
		rec.State = entity.JobCompleted
		rec.Progress = 100
		rec.Result = out.Result
		if len(rec.Result) == 0 {
			rec.Result = json.RawMessage("{}")
		}
		rec.Error = ""
		rec.FinishedAt = &now
		return rec, DecisionCompleted
	}

	rec.Result = nil
	if out.Retryable && rec.AttemptsMade < rec.MaxAttempts {
		next := now.Add(policy.Backoff(rec.AttemptsMade))
		rec.State = entity.JobPending
		rec.Error = ""
		rec.NextRunAt = &next
		return rec, DecisionRetry
	}

	rec.State = entity.JobFailed
	rec.Error = out.Err.Error()
	if rec.Error == "" {
		rec.Error = "unknown error"
	}
	rec.FinishedAt = &now
	return rec, DecisionFailed
}
