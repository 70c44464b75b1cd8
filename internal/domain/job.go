package domain

import "time"

// ScheduleSlot assigns one account/variant pair an absolute fire time inside
// the run's spread window. Immutable once created; consumed exactly once by
// the executor or cancelled before firing.
type ScheduleSlot struct {
	AccountID string    `json:"account_id"`
	VariantID string    `json:"variant_id"`
	FireAt    time.Time `json:"fire_at"`
}

// JobStatus enumerates the execution state machine of a job.
//
//	pending → in_flight → succeeded
//	                    → pending (retryable failure, after backoff)
//	                    → failed_terminal
//	pending → cancelled (any time before in_flight)
//
// A retryable failure is pending with NextRetryAt set and Attempts
// incremented rather than a distinct status, so the claim query stays a
// single-predicate scan.
type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobInFlight       JobStatus = "in_flight"
	JobSucceeded      JobStatus = "succeeded"
	JobFailedTerminal JobStatus = "failed_terminal"
	JobCancelled      JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailedTerminal || s == JobCancelled
}

// MaxAttempts is the total number of publish attempts per job (the first
// attempt plus two retries).
const MaxAttempts = 3

// Job wraps one ScheduleSlot plus mutable execution state. The account ID is
// unique-in-flight: at most one job per account may be in_flight at a time,
// enforced by the per-account execution lock.
type Job struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	AccountID string    `json:"account_id"`
	VariantID string    `json:"variant_id"`
	FireAt    time.Time `json:"fire_at"`

	// Account snapshot taken at schedule time so the executor can compute
	// quota capacity without a directory round trip per attempt.
	AccountClass   AccountClass `json:"account_class"`
	AccountAgeDays int          `json:"account_age_days"`

	Status      JobStatus     `json:"status"`
	Attempts    int           `json:"attempts"`
	NextRetryAt *time.Time    `json:"next_retry_at,omitempty"`
	LastError   ErrorCategory `json:"last_error_category,omitempty"`

	// IdempotencyKey is passed to the publish collaborator so a retried
	// attempt after an ambiguous failure cannot double-post.
	IdempotencyKey string `json:"idempotency_key"`

	WorkerID        string     `json:"worker_id,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	PublishedPostID string     `json:"published_post_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Due reports whether the job's fire time has been reached.
func (j *Job) Due(now time.Time) bool {
	if j.Status != JobPending {
		return false
	}
	if j.NextRetryAt != nil {
		return !now.Before(*j.NextRetryAt)
	}
	return !now.Before(j.FireAt)
}
