// Package job defines the scheduled job entity, its lifecycle state
// machine, content fingerprinting, and next-run calculation.
package job

import (
	"encoding/json"
	"time"

	"github.com/jobgate/jobgate/errors"
	"github.com/jobgate/jobgate/logger"
)

// Status represents the execution lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Frequency represents how often a job recurs.
type Frequency string

const (
	FrequencyOnce    Frequency = "ONCE"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyCustom  Frequency = "CUSTOM"
)

// MaxRetriesLimit caps the configurable per-job retry budget.
const MaxRetriesLimit = 10

// DefaultMaxRetries is used when a job does not specify a retry budget.
const DefaultMaxRetries = 3

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusRunning:   true,
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

var validFrequencies = map[Frequency]bool{
	FrequencyOnce:    true,
	FrequencyDaily:   true,
	FrequencyWeekly:  true,
	FrequencyMonthly: true,
	FrequencyCustom:  true,
}

// ParseStatus maps an external status string to the domain enum.
// Unrecognized values default to PENDING with a structured warning so the
// fallback is visible in logs rather than silent.
func ParseStatus(s string) Status {
	status := Status(s)
	if !validStatuses[status] {
		logger.Warnw("Unrecognized job status, defaulting to PENDING",
			"status", s)
		return StatusPending
	}
	return status
}

// IsValidStatus returns true if s is a recognized status string.
func IsValidStatus(s string) bool {
	return validStatuses[Status(s)]
}

// ParseFrequency maps an external frequency string to the domain enum.
// Unrecognized values default to ONCE with a structured warning.
func ParseFrequency(s string) Frequency {
	freq := Frequency(s)
	if !validFrequencies[freq] {
		logger.Warnw("Unrecognized job frequency, defaulting to ONCE",
			"frequency", s)
		return FrequencyOnce
	}
	return freq
}

// IsValidFrequency returns true if s is a recognized frequency string.
func IsValidFrequency(s string) bool {
	return validFrequencies[Frequency(s)]
}

// Job is the central scheduling entity.
//
// Enabled is orthogonal to Status: a disabled job keeps its lifecycle state
// but must never be present on the work queue. Fingerprint is derived from
// {Name, Frequency, CronExpression, Data} and never mutated after creation.
type Job struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Frequency      Frequency       `json:"frequency"`
	CronExpression string          `json:"cron_expression,omitempty"` // non-empty iff Frequency is CUSTOM
	StartDate      time.Time       `json:"start_date"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	Status         Status          `json:"status"`
	Enabled        bool            `json:"enabled"`
	Data           json.RawMessage `json:"data,omitempty"` // opaque payload handed to the worker runtime
	Fingerprint    string          `json:"fingerprint"`
	Forced         bool            `json:"forced,omitempty"` // admitted with forceCreate; exempt from the identity constraint
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// transitions lists the dispatch-driven status edges. CANCELLED is
// reachable from every state via Cancel.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether moving from to next is a dispatch-driven
// transition. Direct status edits through update bypass this check but must
// trigger the same queue and cache side effects.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MarkRunning records dispatch: status moves to RUNNING and LastRunAt is set.
func (j *Job) MarkRunning(now time.Time) error {
	if !CanTransition(j.Status, StatusRunning) {
		return errors.Newf("invalid transition %s -> %s for job %d", j.Status, StatusRunning, j.ID)
	}
	j.Status = StatusRunning
	j.LastRunAt = &now
	j.UpdatedAt = now
	return nil
}

// MarkCompleted records normal completion of a run.
func (j *Job) MarkCompleted(now time.Time) error {
	if !CanTransition(j.Status, StatusCompleted) {
		return errors.Newf("invalid transition %s -> %s for job %d", j.Status, StatusCompleted, j.ID)
	}
	j.Status = StatusCompleted
	j.UpdatedAt = now
	return nil
}

// MarkFailed records an execution error.
func (j *Job) MarkFailed(now time.Time) error {
	if !CanTransition(j.Status, StatusFailed) {
		return errors.Newf("invalid transition %s -> %s for job %d", j.Status, StatusFailed, j.ID)
	}
	j.Status = StatusFailed
	j.UpdatedAt = now
	return nil
}

// Cancel moves the job to CANCELLED. Valid from any state; reserved for
// explicit cancellation.
func (j *Job) Cancel(now time.Time) {
	j.Status = StatusCancelled
	j.UpdatedAt = now
}

// IncrementRetry bumps the retry counter without touching status. Returns
// false when the retry budget is exhausted.
func (j *Job) IncrementRetry() bool {
	if j.RetryCount >= j.MaxRetries {
		return false
	}
	j.RetryCount++
	return true
}

// SchedulingFieldsEqual reports whether the fields that feed the next-run
// calculation match between j and other.
func (j *Job) SchedulingFieldsEqual(other *Job) bool {
	if j.Frequency != other.Frequency || j.CronExpression != other.CronExpression {
		return false
	}
	if !j.StartDate.Equal(other.StartDate) {
		return false
	}
	if (j.EndDate == nil) != (other.EndDate == nil) {
		return false
	}
	if j.EndDate != nil && !j.EndDate.Equal(*other.EndDate) {
		return false
	}
	if (j.LastRunAt == nil) != (other.LastRunAt == nil) {
		return false
	}
	if j.LastRunAt != nil && !j.LastRunAt.Equal(*other.LastRunAt) {
		return false
	}
	return true
}
