package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/scoutline/scout-api/config"
	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/data"
	"github.com/scoutline/scout-api/internal/domain/model"
	apperrors "github.com/scoutline/scout-api/internal/errors"
	"github.com/scoutline/scout-api/internal/mocks"
	"github.com/scoutline/scout-api/internal/queue"
)

var managerNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// newRunManager creates mock repositories, a real queue, a fixed clock, and the
// service under test.
func newRunManager(t *testing.T) (*mocks.MockRunRepository, *mocks.MockResultRepository, *queue.Queue, *RunManagerService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	runRepo := mocks.NewMockRunRepository(ctrl)
	resultRepo := mocks.NewMockResultRepository(ctrl)
	q := queue.New(queue.Options{})

	svc := MustNewRunManagerService(RunManagerServiceOptions{
		Runs:    runRepo,
		Results: resultRepo,
		Queue:   q,
		Config: config.RunManagerConfig{
			StuckThreshold:  30 * time.Minute,
			RetentionMaxAge: 720 * time.Hour,
			BatchSize:       1000,
			JobRetention:    time.Hour,
		},
		Now: func() time.Time { return managerNow },
	})

	return runRepo, resultRepo, q, svc
}

func agedRun(id string, status model.RunStatus, age time.Duration) *model.Run {
	r := testRun(status)
	r.ID = id
	r.CreatedAt = managerNow.Add(-age)
	r.UpdatedAt = r.CreatedAt
	return r
}

func TestRunManagerService_GetHealth(t *testing.T) {
	t.Parallel()
	runRepo, _, _, svc := newRunManager(t)

	ctx := context.Background()

	t.Run("fresh run is healthy", func(t *testing.T) {
		r := agedRun(testRunID, model.RunStatusProcessing, 10*time.Minute)
		r.CompletedCount = 1
		runRepo.EXPECT().GetByID(ctx, testRunID).Return(r, nil).Times(1)

		health, err := svc.GetHealth(ctx, testRunID, 0)
		require.NoError(t, err)
		assert.False(t, health.IsStuck)
		assert.InDelta(t, 0.5, health.Progress, 0.0001)
		assert.InDelta(t, 10, health.AgeMinutes, 0.0001)
		require.NotNil(t, health.EstimatedMinutesRemaining)
		assert.InDelta(t, 10, *health.EstimatedMinutesRemaining, 0.0001)
	})

	t.Run("old run is stuck", func(t *testing.T) {
		r := agedRun(testRunID, model.RunStatusProcessing, 45*time.Minute)
		runRepo.EXPECT().GetByID(ctx, testRunID).Return(r, nil).Times(1)

		health, err := svc.GetHealth(ctx, testRunID, 0)
		require.NoError(t, err)
		assert.True(t, health.IsStuck)
		// Zero progress defines no expected finish time.
		assert.Nil(t, health.EstimatedMinutesRemaining)
	})

	t.Run("threshold override relaxes staleness", func(t *testing.T) {
		r := agedRun(testRunID, model.RunStatusProcessing, 45*time.Minute)
		runRepo.EXPECT().GetByID(ctx, testRunID).Return(r, nil).Times(1)

		health, err := svc.GetHealth(ctx, testRunID, 2*time.Hour)
		require.NoError(t, err)
		assert.False(t, health.IsStuck)
	})

	t.Run("not found", func(t *testing.T) {
		runRepo.EXPECT().GetByID(ctx, "missing").Return(nil, data.ErrRunNotFound).Times(1)

		_, err := svc.GetHealth(ctx, "missing", 0)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestRunManagerService_Summary(t *testing.T) {
	t.Parallel()
	runRepo, _, _, svc := newRunManager(t)

	ctx := context.Background()

	t.Run("no active runs", func(t *testing.T) {
		runRepo.EXPECT().FindActive(ctx).Return(nil, nil).Times(1)

		summary, err := svc.Summary(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.ActiveRuns)
		assert.Zero(t, summary.AverageProgress)
	})

	t.Run("mixed health", func(t *testing.T) {
		fresh := agedRun("run-a", model.RunStatusProcessing, 5*time.Minute)
		fresh.CompletedCount = 1 // 0.5 progress
		stale := agedRun("run-b", model.RunStatusPending, time.Hour)
		runRepo.EXPECT().FindActive(ctx).Return([]*model.Run{fresh, stale}, nil).Times(1)

		summary, err := svc.Summary(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.ActiveRuns)
		assert.Equal(t, 1, summary.StuckRuns)
		assert.InDelta(t, 0.25, summary.AverageProgress, 0.0001)
	})
}

func TestRunManagerService_RecoverStuckRuns(t *testing.T) {
	t.Parallel()
	runRepo, _, q, svc := newRunManager(t)

	ctx := context.Background()
	stuck := agedRun(testRunID, model.RunStatusFailed, time.Hour)

	job, err := q.Enqueue(&model.EnqueueJobRequest{
		Type: model.JobTypeScoring,
		Payload: model.JobPayload{
			RunID:     testRunID,
			OwnerID:   testOwnerID,
			Prospects: []string{"alice"},
			Profile:   testProfile,
		},
	})
	require.NoError(t, err)

	runRepo.EXPECT().
		RecoverStuck(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, params core.RecoverStuckRunsParams) ([]*model.Run, error) {
			assert.Equal(t, managerNow.Add(-30*time.Minute), params.Cutoff)
			assert.Contains(t, params.Reason, "stuck threshold")
			return []*model.Run{stuck}, nil
		}).
		Times(1)

	report, err := svc.RecoverStuckRuns(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RecoveredCount)
	require.Len(t, report.Runs, 1)
	assert.Equal(t, testRunID, report.Runs[0].ID)
	assert.InDelta(t, 60, report.Runs[0].AgeMinutes, 0.0001)

	// The queue job tracking the recovered run is stopped too.
	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
}

func TestRunManagerService_CheckTimeouts(t *testing.T) {
	t.Parallel()
	runRepo, _, _, svc := newRunManager(t)

	ctx := context.Background()
	runRepo.EXPECT().
		RecoverStuck(ctx, gomock.Any()).
		Return([]*model.Run{
			agedRun("run-a", model.RunStatusFailed, time.Hour),
			agedRun("run-b", model.RunStatusFailed, 2*time.Hour),
		}, nil).
		Times(1)

	count, err := svc.CheckTimeouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRunManagerService_ResumeRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("re-enqueues only the remainder", func(t *testing.T) {
		runRepo, resultRepo, q, svc := newRunManager(t)

		r := agedRun(testRunID, model.RunStatusProcessing, 10*time.Minute)
		r.TotalItems = 3
		r.CompletedCount = 2
		runRepo.EXPECT().GetByID(ctx, testRunID).Return(r, nil).Times(1)
		runRepo.EXPECT().
			GetPayload(ctx, testRunID).
			Return(&model.RunPayload{
				Prospects: []string{"alice", "bob", "carol"},
				Profile:   testProfile,
				GroupSize: 2,
			}, nil).
			Times(1)
		resultRepo.EXPECT().
			ProspectsByRun(ctx, testRunID).
			Return([]string{"alice", "carol"}, nil).
			Times(1)

		job, err := svc.ResumeRun(ctx, testRunID)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, []string{"bob"}, job.Payload.Prospects)
		assert.Equal(t, 2, job.Payload.GroupSize)

		_, ok := q.ActiveJobForRun(testRunID)
		assert.True(t, ok)
	})

	t.Run("nothing remaining completes the run", func(t *testing.T) {
		runRepo, resultRepo, _, svc := newRunManager(t)

		r := agedRun(testRunID, model.RunStatusProcessing, 10*time.Minute)
		runRepo.EXPECT().GetByID(ctx, testRunID).Return(r, nil).Times(1)
		runRepo.EXPECT().
			GetPayload(ctx, testRunID).
			Return(&model.RunPayload{Prospects: []string{"alice", "bob"}, Profile: testProfile}, nil).
			Times(1)
		resultRepo.EXPECT().
			ProspectsByRun(ctx, testRunID).
			Return([]string{"alice", "bob"}, nil).
			Times(1)
		runRepo.EXPECT().
			SetTerminal(ctx, core.SetRunTerminalParams{ID: testRunID, Status: model.RunStatusCompleted}).
			Return(true, nil).
			Times(1)

		job, err := svc.ResumeRun(ctx, testRunID)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("terminal run conflicts", func(t *testing.T) {
		runRepo, _, _, svc := newRunManager(t)

		runRepo.EXPECT().
			GetByID(ctx, testRunID).
			Return(agedRun(testRunID, model.RunStatusCompleted, time.Hour), nil).
			Times(1)

		_, err := svc.ResumeRun(ctx, testRunID)
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("active job conflicts", func(t *testing.T) {
		runRepo, _, q, svc := newRunManager(t)

		_, err := q.Enqueue(&model.EnqueueJobRequest{
			Type: model.JobTypeScoring,
			Payload: model.JobPayload{
				RunID:     testRunID,
				OwnerID:   testOwnerID,
				Prospects: []string{"alice"},
				Profile:   testProfile,
			},
		})
		require.NoError(t, err)

		runRepo.EXPECT().
			GetByID(ctx, testRunID).
			Return(agedRun(testRunID, model.RunStatusProcessing, time.Minute), nil).
			Times(1)

		_, err = svc.ResumeRun(ctx, testRunID)
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})
}

func TestRunManagerService_ResumeInterrupted(t *testing.T) {
	t.Parallel()
	runRepo, resultRepo, q, svc := newRunManager(t)

	ctx := context.Background()

	tracked := agedRun("run-tracked", model.RunStatusProcessing, time.Minute)
	orphaned := agedRun("run-orphaned", model.RunStatusProcessing, time.Minute)
	broken := agedRun("run-broken", model.RunStatusProcessing, time.Minute)

	// tracked still has a queue job and must be skipped.
	_, err := q.Enqueue(&model.EnqueueJobRequest{
		Type: model.JobTypeScoring,
		Payload: model.JobPayload{
			RunID:     tracked.ID,
			OwnerID:   testOwnerID,
			Prospects: []string{"alice"},
			Profile:   testProfile,
		},
	})
	require.NoError(t, err)

	runRepo.EXPECT().
		FindActive(ctx).
		Return([]*model.Run{tracked, orphaned, broken}, nil).
		Times(1)

	// orphaned resumes cleanly.
	runRepo.EXPECT().GetByID(ctx, orphaned.ID).Return(orphaned, nil).Times(1)
	runRepo.EXPECT().
		GetPayload(ctx, orphaned.ID).
		Return(&model.RunPayload{Prospects: []string{"alice", "bob"}, Profile: testProfile}, nil).
		Times(1)
	resultRepo.EXPECT().ProspectsByRun(ctx, orphaned.ID).Return([]string{"alice"}, nil).Times(1)

	// broken fails to load but must not abort the pass.
	runRepo.EXPECT().GetByID(ctx, broken.ID).Return(broken, nil).Times(1)
	runRepo.EXPECT().
		GetPayload(ctx, broken.ID).
		Return(nil, errors.New("payload corrupted")).
		Times(1)

	resumed, err := svc.ResumeInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	job, ok := q.ActiveJobForRun(orphaned.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, job.Payload.Prospects)
}

func TestRunManagerService_FailRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("fails run and cancels its job", func(t *testing.T) {
		runRepo, _, q, svc := newRunManager(t)

		job, err := q.Enqueue(&model.EnqueueJobRequest{
			Type: model.JobTypeScoring,
			Payload: model.JobPayload{
				RunID:     testRunID,
				OwnerID:   testOwnerID,
				Prospects: []string{"alice"},
				Profile:   testProfile,
			},
		})
		require.NoError(t, err)

		runRepo.EXPECT().
			SetTerminal(ctx, core.SetRunTerminalParams{
				ID:       testRunID,
				Status:   model.RunStatusFailed,
				ErrorMsg: "bad profile",
			}).
			Return(true, nil).
			Times(1)
		failed := agedRun(testRunID, model.RunStatusFailed, time.Minute)
		runRepo.EXPECT().GetByID(ctx, testRunID).Return(failed, nil).Times(1)

		got, err := svc.FailRun(ctx, testRunID, "bad profile")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)

		cancelled, ok := q.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, model.JobStatusCancelled, cancelled.Status)
	})

	t.Run("default reason", func(t *testing.T) {
		runRepo, _, _, svc := newRunManager(t)

		runRepo.EXPECT().
			SetTerminal(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, params core.SetRunTerminalParams) (bool, error) {
				assert.Equal(t, "run failed by operator request", params.ErrorMsg)
				return true, nil
			}).
			Times(1)
		runRepo.EXPECT().
			GetByID(ctx, testRunID).
			Return(agedRun(testRunID, model.RunStatusFailed, time.Minute), nil).
			Times(1)

		_, err := svc.FailRun(ctx, testRunID, "")
		require.NoError(t, err)
	})

	t.Run("already terminal conflicts", func(t *testing.T) {
		runRepo, _, _, svc := newRunManager(t)

		runRepo.EXPECT().SetTerminal(ctx, gomock.Any()).Return(false, nil).Times(1)

		_, err := svc.FailRun(ctx, testRunID, "too late")
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("not found", func(t *testing.T) {
		runRepo, _, _, svc := newRunManager(t)

		runRepo.EXPECT().SetTerminal(ctx, gomock.Any()).Return(false, data.ErrRunNotFound).Times(1)

		_, err := svc.FailRun(ctx, "missing", "")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestRunManagerService_Cleanup(t *testing.T) {
	t.Parallel()
	runRepo, _, _, svc := newRunManager(t)

	ctx := context.Background()
	expectedCutoff := managerNow.Add(-720 * time.Hour)

	// Two full batches and a final empty pass.
	counts := []int64{1000, 250, 0}
	call := 0
	runRepo.EXPECT().
		DeleteOldTerminal(ctx, core.DeleteOldRunsParams{Cutoff: expectedCutoff, BatchSize: 1000}).
		DoAndReturn(func(context.Context, core.DeleteOldRunsParams) (int64, error) {
			n := counts[call]
			call++
			return n, nil
		}).
		Times(3)

	total, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), total)
}
