package run

import (
	"testing"
	"time"

	"github.com/scoutline/scout-api/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHealthPolicy(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		policy, err := NewHealthPolicy(30 * time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Minute, policy.Threshold())
	})

	t.Run("invalid threshold", func(t *testing.T) {
		policy, err := NewHealthPolicy(0)
		require.ErrorIs(t, err, ErrInvalidStuckThreshold)
		assert.Nil(t, policy)
	})
}

func TestProgress(t *testing.T) {
	t.Run("zero total is zero by convention", func(t *testing.T) {
		assert.Equal(t, 0.0, Progress(0, 0))
	})

	t.Run("partial", func(t *testing.T) {
		assert.InDelta(t, 0.25, Progress(1, 4), 1e-9)
	})

	t.Run("complete", func(t *testing.T) {
		assert.Equal(t, 1.0, Progress(4, 4))
	})
}

func TestEstimatedMinutesRemaining(t *testing.T) {
	t.Run("undefined at zero progress", func(t *testing.T) {
		assert.Nil(t, EstimatedMinutesRemaining(10, 0))
	})

	t.Run("extrapolates from elapsed time", func(t *testing.T) {
		// 10 minutes elapsed at 25% done: 30 minutes remain.
		remaining := EstimatedMinutesRemaining(10, 0.25)
		require.NotNil(t, remaining)
		assert.InDelta(t, 30.0, *remaining, 1e-9)
	})

	t.Run("zero when done", func(t *testing.T) {
		remaining := EstimatedMinutesRemaining(10, 1)
		require.NotNil(t, remaining)
		assert.Equal(t, 0.0, *remaining)
	})
}

func TestHealthPolicy_Evaluate(t *testing.T) {
	policy, err := NewHealthPolicy(30 * time.Minute)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	newRun := func(status model.RunStatus, age time.Duration, completed, total int) *model.Run {
		return &model.Run{
			ID:             "run-1",
			Status:         status,
			TotalItems:     total,
			CompletedCount: completed,
			CreatedAt:      now.Add(-age),
		}
	}

	t.Run("fresh processing run is healthy", func(t *testing.T) {
		health := policy.Evaluate(newRun(model.RunStatusProcessing, 5*time.Minute, 2, 10), now, 0)
		assert.False(t, health.IsStuck)
		assert.InDelta(t, 5.0, health.AgeMinutes, 1e-9)
		assert.InDelta(t, 0.2, health.Progress, 1e-9)
		require.NotNil(t, health.EstimatedMinutesRemaining)
		assert.InDelta(t, 20.0, *health.EstimatedMinutesRemaining, 1e-9)
	})

	t.Run("backdated run past threshold is stuck", func(t *testing.T) {
		health := policy.Evaluate(newRun(model.RunStatusProcessing, 40*time.Minute, 0, 10), now, 0)
		assert.True(t, health.IsStuck)
		assert.Nil(t, health.EstimatedMinutesRemaining)
	})

	t.Run("terminal run is never stuck", func(t *testing.T) {
		health := policy.Evaluate(newRun(model.RunStatusCompleted, 3*time.Hour, 10, 10), now, 0)
		assert.False(t, health.IsStuck)
	})

	t.Run("caller override threshold wins", func(t *testing.T) {
		health := policy.Evaluate(newRun(model.RunStatusPending, 10*time.Minute, 0, 10), now, 5*time.Minute)
		assert.True(t, health.IsStuck)
	})
}
