package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scoutline/scout-api/internal/domain/model"
)

func TestPrintRecoveryReport(t *testing.T) {
	t.Run("no stuck runs", func(t *testing.T) {
		var buf bytes.Buffer
		err := printRecoveryReport(&buf, &model.RecoveryReport{})
		require.NoError(t, err)
		require.Contains(t, buf.String(), "No stuck runs found.")
	})

	t.Run("recovered runs table", func(t *testing.T) {
		var buf bytes.Buffer
		err := printRecoveryReport(&buf, &model.RecoveryReport{
			RecoveredCount: 1,
			Runs: []model.RecoveredRun{
				{
					ID:         "run-123",
					OwnerID:    "owner-1",
					AgeMinutes: 90,
					CreatedAt:  time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
				},
			},
		})
		require.NoError(t, err)

		out := buf.String()
		require.Contains(t, out, "Recovered 1 stuck run(s)")
		require.Contains(t, out, "run-123")
		require.Contains(t, out, "owner-1")
		require.Contains(t, out, "1h30m0s")
	})
}

func TestPrintRunHealth(t *testing.T) {
	eta := 12.5

	var buf bytes.Buffer
	err := printRunHealth(&buf, "run-123", &model.RunHealth{
		Progress:                  0.4,
		AgeMinutes:                10,
		IsStuck:                   false,
		EstimatedMinutesRemaining: &eta,
	})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "Run run-123: healthy")
	require.Contains(t, out, "Progress: 40%")
	require.Contains(t, out, "Estimated remaining: 12.5 min")
}

func TestPrintRunHealthStuck(t *testing.T) {
	var buf bytes.Buffer
	err := printRunHealth(&buf, "run-456", &model.RunHealth{
		Progress:   0,
		AgeMinutes: 120,
		IsStuck:    true,
	})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "Run run-456: STUCK")
	require.NotContains(t, out, "Estimated remaining")
}

func TestPrintHealthSummary(t *testing.T) {
	var buf bytes.Buffer
	err := printHealthSummary(&buf, &model.RunHealthSummary{
		ActiveRuns:      4,
		StuckRuns:       1,
		AverageProgress: 0.62,
	})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "Run Health Summary")
	require.Contains(t, out, "4")
	require.Contains(t, out, "Average progress:")
	require.Contains(t, out, "62%")
}
