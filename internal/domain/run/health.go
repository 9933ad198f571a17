// Package run contains pure domain policy for run health and staleness.
package run

import (
	"errors"
	"time"

	"github.com/scoutline/scout-api/internal/domain/model"
)

// ErrInvalidStuckThreshold indicates the configured staleness threshold is not positive.
var ErrInvalidStuckThreshold = errors.New("stuck threshold must be positive")

// DefaultStuckThreshold is the staleness threshold applied when callers do not override it.
const DefaultStuckThreshold = 30 * time.Minute

// HealthPolicy computes health for in-flight runs.
// It is a pure value type: all inputs, including the current time, are explicit.
type HealthPolicy struct {
	stuckThreshold time.Duration
}

// NewHealthPolicy constructs a HealthPolicy with the provided staleness threshold.
func NewHealthPolicy(stuckThreshold time.Duration) (*HealthPolicy, error) {
	if stuckThreshold <= 0 {
		return nil, ErrInvalidStuckThreshold
	}
	return &HealthPolicy{stuckThreshold: stuckThreshold}, nil
}

// Threshold returns the configured staleness threshold.
func (p *HealthPolicy) Threshold() time.Duration {
	if p == nil {
		return DefaultStuckThreshold
	}
	return p.stuckThreshold
}

// Resolve returns the override threshold when positive, the policy default otherwise.
func (p *HealthPolicy) Resolve(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return p.Threshold()
}

// Progress returns completed/total, defining 0/0 as 0 by convention rather than an error.
func Progress(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total)
}

// AgeMinutes returns the age of a run in minutes at the given instant.
func AgeMinutes(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		return 0
	}
	return age.Minutes()
}

// EstimatedMinutesRemaining extrapolates time remaining from elapsed time and progress.
// Undefined (nil) when progress is zero: with no forward motion there is nothing to extrapolate.
func EstimatedMinutesRemaining(ageMinutes, progress float64) *float64 {
	if progress <= 0 {
		return nil
	}
	remaining := ageMinutes * (1/progress - 1)
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// Evaluate computes the health snapshot for a run at the given instant.
// Only pending and processing runs can be stuck; terminal runs are never stuck.
func (p *HealthPolicy) Evaluate(r *model.Run, now time.Time, override time.Duration) model.RunHealth {
	progress := Progress(r.CompletedCount, r.TotalItems)
	age := AgeMinutes(r.CreatedAt, now)

	threshold := p.Resolve(override)
	stuck := !r.Status.Terminal() && age > threshold.Minutes()

	return model.RunHealth{
		Progress:                  progress,
		AgeMinutes:                age,
		IsStuck:                   stuck,
		EstimatedMinutesRemaining: EstimatedMinutesRemaining(age, progress),
	}
}
