package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/domain/model"
	apperrors "github.com/scoutline/scout-api/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Queue  core.JobQueue // Required: in-memory job queue
	Logger *slog.Logger  // Optional: structured logger
}

// JobService provides owner-scoped access to queued jobs.
// A caller can only see and cancel jobs belonging to their own runs.
type JobService struct {
	queue  core.JobQueue
	logger *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Queue == nil {
		return nil, errors.New("JobQueue is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{queue: opts.Queue, logger: logger}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
	}
	return svc
}

// GetByID returns a job owned by the caller. Jobs of other owners look
// identical to missing jobs.
func (s *JobService) GetByID(_ context.Context, id, ownerID string) (*model.Job, error) {
	job, ok := s.queue.Get(id)
	if !ok || job.Payload.OwnerID != ownerID {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return job, nil
}

// List returns the caller's jobs, newest first.
func (s *JobService) List(_ context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	if opts.OwnerID == "" {
		return nil, apperrors.Validation("owner id is required")
	}
	return s.queue.List(opts), nil
}

// Cancel requests cancellation of one of the caller's jobs. Returns the job
// in its post-request state.
func (s *JobService) Cancel(ctx context.Context, id, ownerID string) (*model.Job, error) {
	job, err := s.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if !s.queue.Cancel(job.ID) {
		return nil, apperrors.Conflictf("job %s is already finished", id)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job cancellation requested", "job_id", id)
	}

	updated, ok := s.queue.Get(id)
	if !ok {
		return job, nil
	}
	return updated, nil
}
