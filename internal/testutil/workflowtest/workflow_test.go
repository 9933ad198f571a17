package workflowtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutline/scout-api/internal/adapters/analyzer"
	"github.com/scoutline/scout-api/internal/domain/model"
	"github.com/scoutline/scout-api/internal/testutil"
)

func TestFakeAnalyzer(t *testing.T) {
	fake := NewFakeAnalyzer()
	defer fake.Close()

	fake.SetVerdict("alice", Verdict{
		Score:           0.9,
		Classification:  "strong",
		Rationale:       "exact industry match",
		MatchedCriteria: []string{"industry"},
		Gaps:            []string{},
	})
	fake.FailProspect("mallory")

	client, err := analyzer.NewClient(analyzer.ClientOptions{BaseURL: fake.BaseURL()})
	require.NoError(t, err)

	analysis, err := client.Analyze(context.Background(), "alice", SimpleProfile("industry"))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, analysis.Score, 0.001)
	assert.Equal(t, "strong", analysis.Classification)
	assert.Equal(t, []string{"industry"}, analysis.MatchedCriteria)

	// Unknown prospects fall back to the default verdict.
	analysis, err = client.Analyze(context.Background(), "bob", SimpleProfile("industry"))
	require.NoError(t, err)
	assert.Equal(t, "moderate", analysis.Classification)

	_, err = client.Analyze(context.Background(), "mallory", SimpleProfile("industry"))
	require.Error(t, err)

	assert.Equal(t, []string{"alice", "bob", "mallory"}, fake.Calls())
}

func TestWorkflow_RunCompletes(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	WithWorkflowHarness(t, DefaultWorkflowOptions(), func(h *WorkflowTestHarness) {
		h.Analyzer.SetVerdict("alice", Verdict{Score: 0.9, Classification: "strong"})
		h.Analyzer.SetVerdict("bob", Verdict{Score: 0.2, Classification: "weak"})

		ctx := context.Background()
		run, job := h.SubmitRun(ctx, testutil.NewRunRequest().
			WithOwner("owner-1").
			WithProspects("alice", "bob", "carol").
			Build())
		require.NotNil(t, job)
		assert.Equal(t, run.ID, job.Payload.RunID)

		final := h.WaitForTerminal(ctx, run.ID, 10*time.Second)
		assert.Equal(t, model.RunStatusCompleted, final.Status)
		assert.Equal(t, 3, final.CompletedCount)
		assert.NotNil(t, final.CompletedAt)

		results := h.ResultsByProspect(ctx, run.ID)
		require.Len(t, results, 3)
		assert.Equal(t, "strong", results["alice"].Classification)
		assert.Equal(t, "weak", results["bob"].Classification)
		assert.Equal(t, "moderate", results["carol"].Classification)

		snapshot, err := h.Status.GetStatus(ctx, run.ID, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCompleted, snapshot.Run.Status)
		require.NotNil(t, snapshot.Stats)
		assert.Equal(t, 1, snapshot.Stats.Classifications["strong"])
	})
}

func TestWorkflow_AnalyzerFailureRecordsFailedItem(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	WithWorkflowHarness(t, DefaultWorkflowOptions(), func(h *WorkflowTestHarness) {
		h.Analyzer.FailProspect("bob")

		ctx := context.Background()
		run, _ := h.SubmitRun(ctx, testutil.NewRunRequest().
			WithOwner("owner-1").
			WithProspects("alice", "bob").
			Build())

		// A failed item is an outcome, not a run failure.
		final := h.WaitForTerminal(ctx, run.ID, 10*time.Second)
		assert.Equal(t, model.RunStatusCompleted, final.Status)
		assert.Equal(t, 2, final.CompletedCount)

		results := h.ResultsByProspect(ctx, run.ID)
		require.Len(t, results, 2)
		assert.Equal(t, model.ResultStatusCompleted, results["alice"].Status)
		assert.Equal(t, model.ResultStatusFailed, results["bob"].Status)
		require.NotNil(t, results["bob"].Error)
	})
}

func TestWorkflow_CancelMidRunKeepsRecordedWork(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	WithWorkflowHarness(t, WorkflowTestOptions{Workers: 1, PollInterval: 20 * time.Millisecond}, func(h *WorkflowTestHarness) {
		h.Analyzer.SetDelay(300 * time.Millisecond)

		ctx := context.Background()
		run, job := h.SubmitRun(ctx, testutil.NewRunRequest().
			WithOwner("owner-1").
			WithProspects("alice", "bob", "carol", "dave").
			WithGroupSize(1).
			Build())

		// Wait until the first item has been recorded, then cancel while the
		// next one is in flight.
		require.Eventually(t, func() bool {
			n, err := h.Results.CountByRun(ctx, model.ResultListOptions{RunID: run.ID})
			require.NoError(t, err)
			return n >= 1
		}, 10*time.Second, 10*time.Millisecond)

		_, err := h.Runs.Cancel(ctx, run.ID, "owner-1")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			j, ok := h.Queue.Get(job.ID)
			return ok && j.Status.Terminal()
		}, 10*time.Second, 10*time.Millisecond)

		j, ok := h.Queue.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, model.JobStatusCancelled, j.Status)

		// The run row is untouched: still active, progress matching exactly
		// the recorded results, no error text.
		current, err := h.RunRepo.GetByID(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusProcessing, current.Status)
		assert.Nil(t, current.LastError)

		n, err := h.Results.CountByRun(ctx, model.ResultListOptions{RunID: run.ID})
		require.NoError(t, err)
		assert.Equal(t, current.CompletedCount, n)
		assert.Less(t, n, 4)
	})
}

func TestWorkflow_GroupedFanOut(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	WithWorkflowHarness(t, DefaultWorkflowOptions(), func(h *WorkflowTestHarness) {
		ctx := context.Background()
		run, _ := h.SubmitRun(ctx, testutil.NewRunRequest().
			WithOwner("owner-1").
			WithProspectCount(7).
			WithGroupSize(3).
			Build())

		final := h.WaitForTerminal(ctx, run.ID, 15*time.Second)
		assert.Equal(t, model.RunStatusCompleted, final.Status)
		assert.Equal(t, 7, final.CompletedCount)
		assert.Len(t, h.Analyzer.Calls(), 7)
	})
}
