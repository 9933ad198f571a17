package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scoutline/scout-api/config"
	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/data"
	"github.com/scoutline/scout-api/internal/domain/model"
	runhealth "github.com/scoutline/scout-api/internal/domain/run"
	apperrors "github.com/scoutline/scout-api/internal/errors"
)

// RunManagerServiceOptions groups dependencies for RunManagerService.
type RunManagerServiceOptions struct {
	Runs    core.RunRepository    // Required: durable run store
	Results core.ResultRepository // Required: result store
	Queue   core.JobQueue         // Required: in-memory job queue
	Config  config.RunManagerConfig
	Logger  *slog.Logger            // Optional: structured logger
	Now     func() time.Time        // Optional: clock override for tests
	Policy  *runhealth.HealthPolicy // Optional: defaults to Config.StuckThreshold
}

// RunManagerService provides operational control over runs: health evaluation,
// staleness recovery, resume, explicit failure, and retention cleanup.
type RunManagerService struct {
	runs    core.RunRepository
	results core.ResultRepository
	queue   core.JobQueue
	config  config.RunManagerConfig
	policy  *runhealth.HealthPolicy
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunManagerService constructs a new RunManagerService.
func NewRunManagerService(opts RunManagerServiceOptions) (*RunManagerService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Results == nil {
		return nil, errors.New("ResultRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("JobQueue is required")
	}

	policy := opts.Policy
	if policy == nil {
		threshold := opts.Config.StuckThreshold
		if threshold <= 0 {
			threshold = runhealth.DefaultStuckThreshold
		}
		p, err := runhealth.NewHealthPolicy(threshold)
		if err != nil {
			return nil, fmt.Errorf("health policy: %w", err)
		}
		policy = p
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "run_manager")
	}

	return &RunManagerService{
		runs:    opts.Runs,
		results: opts.Results,
		queue:   opts.Queue,
		config:  opts.Config,
		policy:  policy,
		logger:  logger,
		now:     now,
	}, nil
}

// MustNewRunManagerService constructs a new RunManagerService and panics on error.
func MustNewRunManagerService(opts RunManagerServiceOptions) *RunManagerService {
	svc, err := NewRunManagerService(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return svc
}

// GetHealth evaluates the health of one run. A zero threshold uses the
// configured default.
func (s *RunManagerService) GetHealth(
	ctx context.Context,
	id string,
	threshold time.Duration,
) (*model.RunHealth, error) {
	r, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			return nil, apperrors.NotFoundf("run %s not found", id)
		}
		return nil, fmt.Errorf("get run: %w", apperrors.MapDBError(err))
	}

	health := s.policy.Evaluate(r, s.now(), threshold)
	return &health, nil
}

// Summary aggregates health across all active runs for operators.
func (s *RunManagerService) Summary(ctx context.Context) (*model.RunHealthSummary, error) {
	active, err := s.runs.FindActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("find active runs: %w", apperrors.MapDBError(err))
	}

	summary := &model.RunHealthSummary{ActiveRuns: len(active)}
	if len(active) == 0 {
		return summary, nil
	}

	now := s.now()
	var progressSum float64
	for _, r := range active {
		health := s.policy.Evaluate(r, now, 0)
		progressSum += health.Progress
		if health.IsStuck {
			summary.StuckRuns++
		}
	}
	summary.AverageProgress = progressSum / float64(len(active))
	return summary, nil
}

// RecoverStuckRuns force-fails all active runs older than the threshold and
// returns a report of the touched runs. The sweep is idempotent: recovered
// runs are terminal and a second sweep finds nothing.
func (s *RunManagerService) RecoverStuckRuns(
	ctx context.Context,
	threshold time.Duration,
) (*model.RecoveryReport, error) {
	threshold = s.policy.Resolve(threshold)
	now := s.now()
	cutoff := now.Add(-threshold)

	recovered, err := s.runs.RecoverStuck(ctx, core.RecoverStuckRunsParams{
		Cutoff: cutoff,
		Reason: fmt.Sprintf("run exceeded stuck threshold (%s) and was force-failed", threshold),
	})
	if err != nil {
		return nil, fmt.Errorf("recover stuck runs: %w", apperrors.MapDBError(err))
	}

	report := &model.RecoveryReport{RecoveredCount: len(recovered)}
	for _, r := range recovered {
		// Any queue job still tracking the run is stopped too.
		if job, ok := s.queue.ActiveJobForRun(r.ID); ok {
			s.queue.Cancel(job.ID)
		}
		report.Runs = append(report.Runs, model.RecoveredRun{
			ID:         r.ID,
			OwnerID:    r.OwnerID,
			AgeMinutes: runhealth.AgeMinutes(r.CreatedAt, now),
			CreatedAt:  r.CreatedAt,
		})
	}

	if report.RecoveredCount > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "recovered stuck runs",
			"count", report.RecoveredCount, "threshold", threshold)
	}
	return report, nil
}

// CheckTimeouts is the sweep entry point: it recovers stuck runs using the
// configured threshold and reports how many were touched.
func (s *RunManagerService) CheckTimeouts(ctx context.Context) (int64, error) {
	report, err := s.RecoverStuckRuns(ctx, 0)
	if err != nil {
		return 0, err
	}
	return int64(report.RecoveredCount), nil
}

// ResumeRun re-enqueues the unprocessed remainder of an interrupted run.
// Items that already have a result row are skipped, so resuming never
// re-scores a prospect. If nothing remains the run completes immediately.
func (s *RunManagerService) ResumeRun(ctx context.Context, id string) (*model.Job, error) {
	r, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			return nil, apperrors.NotFoundf("run %s not found", id)
		}
		return nil, fmt.Errorf("get run: %w", apperrors.MapDBError(err))
	}
	if r.Status.Terminal() {
		return nil, apperrors.Conflictf("run %s is %s and cannot be resumed", id, r.Status)
	}
	if _, ok := s.queue.ActiveJobForRun(id); ok {
		return nil, apperrors.Conflictf("run %s already has an active job", id)
	}

	payload, err := s.runs.GetPayload(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load run payload: %w", apperrors.MapDBError(err))
	}
	done, err := s.results.ProspectsByRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load processed prospects: %w", apperrors.MapDBError(err))
	}

	doneSet := make(map[string]struct{}, len(done))
	for _, p := range done {
		doneSet[p] = struct{}{}
	}
	var remaining []string
	for _, p := range payload.Prospects {
		if _, ok := doneSet[p]; !ok {
			remaining = append(remaining, p)
		}
	}

	if len(remaining) == 0 {
		if _, err := s.runs.SetTerminal(ctx, core.SetRunTerminalParams{
			ID:     id,
			Status: model.RunStatusCompleted,
		}); err != nil {
			return nil, fmt.Errorf("complete drained run: %w", apperrors.MapDBError(err))
		}
		if s.logger != nil {
			s.logger.InfoContext(ctx, "run completed on resume, no items remaining", "run_id", id)
		}
		return nil, nil
	}

	job, err := s.queue.Enqueue(&model.EnqueueJobRequest{
		Type: model.JobTypeScoring,
		Payload: model.JobPayload{
			RunID:     id,
			OwnerID:   r.OwnerID,
			Prospects: remaining,
			Profile:   payload.Profile,
			GroupSize: payload.GroupSize,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue resume job: %w", mapEnqueueError(err))
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "run resumed",
			"run_id", id, "job_id", job.ID, "remaining", len(remaining))
	}
	return job, nil
}

// ResumeInterrupted resumes every active run without a queue job. Called at
// executor startup so runs interrupted by a restart pick up where they left off.
func (s *RunManagerService) ResumeInterrupted(ctx context.Context) (int, error) {
	active, err := s.runs.FindActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("find active runs: %w", apperrors.MapDBError(err))
	}

	resumed := 0
	for _, r := range active {
		if _, ok := s.queue.ActiveJobForRun(r.ID); ok {
			continue
		}
		if _, err := s.ResumeRun(ctx, r.ID); err != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "resume interrupted run", "run_id", r.ID, "error", err)
			}
			continue
		}
		resumed++
	}

	if resumed > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "resumed interrupted runs", "count", resumed)
	}
	return resumed, nil
}

// FailRun explicitly fails a non-terminal run and cancels its active job.
// Failing an already-terminal run is an error, never a silent overwrite.
func (s *RunManagerService) FailRun(ctx context.Context, id, reason string) (*model.Run, error) {
	if reason == "" {
		reason = "run failed by operator request"
	}

	ok, err := s.runs.SetTerminal(ctx, core.SetRunTerminalParams{
		ID:       id,
		Status:   model.RunStatusFailed,
		ErrorMsg: reason,
	})
	if err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			return nil, apperrors.NotFoundf("run %s not found", id)
		}
		return nil, fmt.Errorf("fail run: %w", apperrors.MapDBError(err))
	}
	if !ok {
		return nil, apperrors.Conflictf("run %s is already terminal", id)
	}

	if job, active := s.queue.ActiveJobForRun(id); active {
		s.queue.Cancel(job.ID)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "run failed by request", "run_id", id, "reason", reason)
	}
	return s.runs.GetByID(ctx, id)
}

// Cleanup deletes terminal runs past the configured retention window.
func (s *RunManagerService) Cleanup(ctx context.Context) (int64, error) {
	return s.CleanupOlderThan(ctx, 0)
}

// CleanupOlderThan deletes terminal runs older than maxAge, batched to avoid
// long locks, and evicts terminal jobs past the queue retention window.
// A non-positive maxAge uses the configured retention window.
func (s *RunManagerService) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = s.config.RetentionMaxAge
	}
	cutoff := s.now().Add(-maxAge)

	var total int64
	for {
		count, err := s.runs.DeleteOldTerminal(ctx, core.DeleteOldRunsParams{
			Cutoff:    cutoff,
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return total, fmt.Errorf("delete old runs: %w", apperrors.MapDBError(err))
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	evicted := s.queue.EvictTerminal(s.config.JobRetention)
	if s.logger != nil && (total > 0 || evicted > 0) {
		s.logger.InfoContext(ctx, "run cleanup",
			"deleted_runs", total, "evicted_jobs", evicted, "max_age", maxAge)
	}
	return total, nil
}
