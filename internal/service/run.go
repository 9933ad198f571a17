// Package service contains the business logic between the HTTP layer and the
// repositories, queue, and analyzer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/data"
	"github.com/scoutline/scout-api/internal/domain/model"
	apperrors "github.com/scoutline/scout-api/internal/errors"
	"github.com/scoutline/scout-api/internal/queue"
)

// RunServiceOptions groups dependencies for RunService.
type RunServiceOptions struct {
	Runs    core.RunRepository    // Required: durable run store
	Results core.ResultRepository // Required: result store
	Queue   core.JobQueue         // Required: in-memory job queue
	Logger  *slog.Logger          // Optional: structured logger
}

// RunService provides submission and read operations for scoring runs.
// All read operations are owner-scoped: a caller can only see their own runs.
type RunService struct {
	runs    core.RunRepository
	results core.ResultRepository
	queue   core.JobQueue
	logger  *slog.Logger
}

// NewRunService constructs a new RunService.
func NewRunService(opts RunServiceOptions) (*RunService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Results == nil {
		return nil, errors.New("ResultRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("JobQueue is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "run_service")
	}

	return &RunService{
		runs:    opts.Runs,
		results: opts.Results,
		queue:   opts.Queue,
		logger:  logger,
	}, nil
}

// MustNewRunService constructs a new RunService and panics on error.
// Use this when you want fail-fast behavior during application startup.
func MustNewRunService(opts RunServiceOptions) *RunService {
	svc, err := NewRunService(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return svc
}

// Create persists a new run and enqueues its scoring job. The run row is
// written first so a crash between the two steps leaves a resumable pending
// run rather than an untracked job.
func (s *RunService) Create(ctx context.Context, req *model.CreateRunRequest) (*model.Run, *model.Job, error) {
	if req == nil {
		return nil, nil, apperrors.Validation("create run request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, nil, apperrors.Validation(err.Error())
	}

	run, err := s.runs.Create(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("create run: %w", apperrors.MapDBError(err))
	}

	job, err := s.queue.Enqueue(&model.EnqueueJobRequest{
		Type: model.JobTypeScoring,
		Payload: model.JobPayload{
			RunID:     run.ID,
			OwnerID:   run.OwnerID,
			Prospects: req.Prospects,
			Profile:   req.Profile,
			GroupSize: req.GroupSize,
		},
	})
	if err != nil {
		// The durable row must not outlive a submission whose job never queued.
		if _, ferr := s.runs.SetTerminal(ctx, core.SetRunTerminalParams{
			ID:       run.ID,
			Status:   model.RunStatusFailed,
			ErrorMsg: fmt.Sprintf("enqueue scoring job: %v", err),
		}); ferr != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "fail run after enqueue error", "run_id", run.ID, "error", ferr)
		}
		return nil, nil, fmt.Errorf("enqueue scoring job: %w", mapEnqueueError(err))
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "run submitted",
			"run_id", run.ID, "job_id", job.ID, "total_items", run.TotalItems)
	}
	return run, job, nil
}

// GetByID returns a run owned by the caller.
func (s *RunService) GetByID(ctx context.Context, id, ownerID string) (*model.Run, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			return nil, apperrors.NotFoundf("run %s not found", id)
		}
		return nil, fmt.Errorf("get run: %w", apperrors.MapDBError(err))
	}
	// Cross-owner reads look identical to missing runs.
	if run.OwnerID != ownerID {
		return nil, apperrors.NotFoundf("run %s not found", id)
	}
	return run, nil
}

// ListResults returns the persisted results for one of the caller's runs.
func (s *RunService) ListResults(
	ctx context.Context,
	ownerID string,
	opts model.ResultListOptions,
) ([]*model.Result, int, error) {
	if _, err := s.GetByID(ctx, opts.RunID, ownerID); err != nil {
		return nil, 0, err
	}

	results, err := s.results.ListByRun(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", apperrors.MapDBError(err))
	}
	total, err := s.results.CountByRun(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("count results: %w", apperrors.MapDBError(err))
	}
	return results, total, nil
}

// Stats returns aggregated result statistics for one of the caller's runs.
func (s *RunService) Stats(ctx context.Context, id, ownerID string) (*model.RunStats, error) {
	if _, err := s.GetByID(ctx, id, ownerID); err != nil {
		return nil, err
	}

	stats, err := s.results.Stats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", apperrors.MapDBError(err))
	}
	return stats, nil
}

// Cancel requests cancellation of the run's active job. Pending jobs terminate
// immediately; running jobs stop at the next group boundary. The run row is
// left untouched so the remainder can be resumed later.
func (s *RunService) Cancel(ctx context.Context, id, ownerID string) (*model.Job, error) {
	if _, err := s.GetByID(ctx, id, ownerID); err != nil {
		return nil, err
	}

	job, ok := s.queue.ActiveJobForRun(id)
	if !ok {
		return nil, apperrors.Conflictf("run %s has no active job", id)
	}
	if !s.queue.Cancel(job.ID) {
		return nil, apperrors.Conflictf("job %s is already finished", job.ID)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "run cancellation requested", "run_id", id, "job_id", job.ID)
	}

	updated, ok := s.queue.Get(job.ID)
	if !ok {
		return job, nil
	}
	return updated, nil
}

// mapEnqueueError converts queue sentinels to AppError codes for the HTTP layer.
func mapEnqueueError(err error) error {
	if errors.Is(err, queue.ErrRunAlreadyQueued) {
		return apperrors.Conflict("run already has an active job")
	}
	return err
}
