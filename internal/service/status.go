package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/data"
	"github.com/scoutline/scout-api/internal/domain/model"
	runhealth "github.com/scoutline/scout-api/internal/domain/run"
	apperrors "github.com/scoutline/scout-api/internal/errors"
)

// RunStatusSnapshot is the polling contract for one run. The durable run row
// is authoritative; the queue's progress mirror is merged in monotonically so
// a poller never sees the counter move backwards.
type RunStatusSnapshot struct {
	Run    *model.Run       `json:"run"`
	Job    *model.Job       `json:"job,omitempty"`
	Health *model.RunHealth `json:"health,omitempty"`
	Stats  *model.RunStats  `json:"stats,omitempty"`
}

// StatusServiceOptions groups dependencies for StatusService.
type StatusServiceOptions struct {
	Runs    core.RunRepository      // Required: durable run store
	Results core.ResultRepository   // Required: result store
	Queue   core.JobQueue           // Required: in-memory job queue
	Policy  *runhealth.HealthPolicy // Optional: staleness policy
	Logger  *slog.Logger            // Optional: structured logger
	Now     func() time.Time        // Optional: clock override for tests
}

// StatusService assembles the poll response for a run.
type StatusService struct {
	runs    core.RunRepository
	results core.ResultRepository
	queue   core.JobQueue
	policy  *runhealth.HealthPolicy
	logger  *slog.Logger
	now     func() time.Time
}

// NewStatusService constructs a new StatusService.
func NewStatusService(opts StatusServiceOptions) (*StatusService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Results == nil {
		return nil, errors.New("ResultRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("JobQueue is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "status_service")
	}

	return &StatusService{
		runs:    opts.Runs,
		results: opts.Results,
		queue:   opts.Queue,
		policy:  opts.Policy,
		logger:  logger,
		now:     now,
	}, nil
}

// GetStatus returns the status snapshot for a run owned by the caller.
//
// Terminal runs report no health section and include final stats. Active runs
// include health and, when the queue still tracks the run, the job mirror.
func (s *StatusService) GetStatus(ctx context.Context, id, ownerID string) (*RunStatusSnapshot, error) {
	r, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			return nil, apperrors.NotFoundf("run %s not found", id)
		}
		return nil, fmt.Errorf("get run: %w", apperrors.MapDBError(err))
	}
	if r.OwnerID != ownerID {
		return nil, apperrors.NotFoundf("run %s not found", id)
	}

	snapshot := &RunStatusSnapshot{Run: r}

	if job, ok := s.queue.ActiveJobForRun(id); ok {
		snapshot.Job = job
		// The job mirror can briefly run ahead of the last run-row read.
		// Surface the larger of the two, clamped to the total, so the
		// reported counter is monotonic for pollers.
		if job.Progress.Completed > r.CompletedCount {
			r.CompletedCount = min(job.Progress.Completed, r.TotalItems)
		}
	}

	if r.Status.Terminal() {
		// A completed run always reports a full counter, whatever the row
		// briefly said between the last increment and the terminal write.
		if r.Status == model.RunStatusCompleted {
			r.CompletedCount = r.TotalItems
		}
		stats, err := s.results.Stats(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("run stats: %w", apperrors.MapDBError(err))
		}
		snapshot.Stats = stats
		return snapshot, nil
	}

	health := s.policy.Evaluate(r, s.now(), 0)
	snapshot.Health = &health
	return snapshot, nil
}
