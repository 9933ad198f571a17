package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the type of job driven through the in-memory queue.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a queued job.
type JobStatus string

const (
	// JobTypeScoring represents a prospect-scoring batch job.
	JobTypeScoring JobType = "scoring"

	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job has been claimed by the executor.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has failed to complete.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates a job was cancelled by explicit request.
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrNoJobsAvailable is returned when no pending jobs are available to claim.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeScoring
}

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed || s == JobStatusCancelled
}

// Terminal returns true if the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus to allow query parsing.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	js := JobStatus(v)
	if js.Valid() {
		*s = js
		return nil
	}
	return fmt.Errorf("invalid JobStatus: %q", v)
}

// JobPayload carries everything the executor needs to process one run.
type JobPayload struct {
	RunID     string          `json:"run_id"`
	OwnerID   string          `json:"owner_id"`
	Prospects []string        `json:"prospects"`
	Profile   json.RawMessage `json:"profile"`
	GroupSize int             `json:"group_size"`
}

// JobProgress is the in-process completed/total mirror of a run's counter.
// It has no cross-process consistency guarantee; the run row is authoritative.
type JobProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Job is the queue's unit of scheduling, distinct from the durable Run because it
// carries queue-management metadata that does not survive a process restart.
type Job struct {
	ID          string      `json:"id"`
	Type        JobType     `json:"type"`
	Status      JobStatus   `json:"status"`
	Payload     JobPayload  `json:"payload"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	Progress    JobProgress `json:"progress"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       *string     `json:"error,omitempty"`
}

// EnqueueJobRequest represents a request to enqueue a scoring job.
type EnqueueJobRequest struct {
	Type        JobType
	Payload     JobPayload
	MaxAttempts int
}

// Validate validates the EnqueueJobRequest fields.
func (r *EnqueueJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if strings.TrimSpace(r.Payload.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.Payload.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if len(r.Payload.Prospects) == 0 {
		return errors.New("at least one prospect is required")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return nil
}

// JobListOptions holds filters for listing jobs owned by a caller.
type JobListOptions struct {
	OwnerID string
	Status  JobStatus
	Limit   int
	Offset  int
}
