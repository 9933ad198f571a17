// Package model defines the core data types and structures used throughout the scout scoring system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunStatus represents the current status of a scoring run.
type RunStatus string

const (
	// RunStatusPending indicates a run has been created but processing has not started.
	RunStatusPending RunStatus = "pending"
	// RunStatusProcessing indicates a run is currently being processed.
	RunStatusProcessing RunStatus = "processing"
	// RunStatusCompleted indicates a run has finished successfully.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates a run has failed or was force-failed by recovery.
	RunStatusFailed RunStatus = "failed"
)

// Valid returns true if the RunStatus is valid.
func (s RunStatus) Valid() bool {
	return s == RunStatusPending || s == RunStatusProcessing ||
		s == RunStatusCompleted || s == RunStatusFailed
}

// Terminal returns true if the status is a terminal state.
// Terminal runs are immutable: neither status nor completed_count may change again.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler for RunStatus to allow query parsing.
func (s *RunStatus) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	rs := RunStatus(v)
	if rs.Valid() {
		*s = rs
		return nil
	}
	return fmt.Errorf("invalid RunStatus: %q", v)
}

// Run represents one batch scoring request with its durable state.
// The run row is the authoritative record; the in-memory Job only mirrors progress.
type Run struct {
	ID             string     `json:"id"                     db:"id"`
	OwnerID        string     `json:"owner_id"               db:"owner_id"`
	ProfileID      string     `json:"profile_id"             db:"profile_id"`
	Status         RunStatus  `json:"status"                 db:"status"`
	TotalItems     int        `json:"total_items"            db:"total_items"`
	CompletedCount int        `json:"completed_count"        db:"completed_count"`
	LastError      *string    `json:"last_error,omitempty"   db:"last_error"`
	CreatedAt      time.Time  `json:"created_at"             db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt      time.Time  `json:"updated_at"             db:"updated_at"`
}

// RunPayload is the submission payload persisted alongside the run.
// Keeping the prospect list and profile snapshot durable is what makes
// recovery and resume both possible after a process restart.
type RunPayload struct {
	Prospects []string        `json:"prospects"`
	Profile   json.RawMessage `json:"profile"`
	GroupSize int             `json:"group_size,omitempty"`
}

// CreateRunRequest represents a request to create a new scoring run.
type CreateRunRequest struct {
	OwnerID   string          `json:"-"`
	ProfileID string          `json:"profile_id"`
	Prospects []string        `json:"prospects"`
	Profile   json.RawMessage `json:"profile"`
	GroupSize int             `json:"group_size,omitempty"`
}

// MaxProspectsPerRun bounds a single submission to protect the Analyzer
// and downstream rate limits.
const MaxProspectsPerRun = 500

// Validate validates the CreateRunRequest fields.
func (r *CreateRunRequest) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if strings.TrimSpace(r.ProfileID) == "" {
		return errors.New("profile id is required")
	}
	if len(r.Prospects) == 0 {
		return errors.New("at least one prospect is required")
	}
	if len(r.Prospects) > MaxProspectsPerRun {
		return fmt.Errorf("too many prospects (max %d)", MaxProspectsPerRun)
	}
	seen := make(map[string]struct{}, len(r.Prospects))
	for _, p := range r.Prospects {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			return errors.New("prospect identifiers must be non-empty")
		}
		if _, dup := seen[trimmed]; dup {
			return fmt.Errorf("duplicate prospect identifier: %q", trimmed)
		}
		seen[trimmed] = struct{}{}
	}
	if len(r.Profile) == 0 {
		return errors.New("profile snapshot is required")
	}
	if r.GroupSize < 0 {
		return errors.New("group size must be >= 0")
	}
	return nil
}

// RunStats aggregates result outcomes for a run.
type RunStats struct {
	Classifications map[string]int `json:"classifications"`
	AverageScore    *float64       `json:"average_score,omitempty"`
}

// RunHealth describes the health of an in-flight run as computed by the run manager.
type RunHealth struct {
	Progress                  float64  `json:"progress"`
	AgeMinutes                float64  `json:"age_minutes"`
	IsStuck                   bool     `json:"is_stuck"`
	EstimatedMinutesRemaining *float64 `json:"estimated_minutes_remaining,omitempty"`
}

// RunHealthSummary aggregates run health across all active runs for operators.
type RunHealthSummary struct {
	ActiveRuns      int     `json:"active_runs"`
	StuckRuns       int     `json:"stuck_runs"`
	AverageProgress float64 `json:"average_progress"`
}

// RecoveredRun identifies one run touched by a recovery sweep.
type RecoveredRun struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	AgeMinutes float64   `json:"age_minutes"`
	CreatedAt  time.Time `json:"created_at"`
}

// RecoveryReport summarizes a recovery sweep.
type RecoveryReport struct {
	RecoveredCount int            `json:"recovered_count"`
	Runs           []RecoveredRun `json:"runs"`
}
