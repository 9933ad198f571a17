// Package executor drives scoring runs: it claims queued jobs, fans prospect
// groups out to the analyzer, and records per-item outcomes.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/domain/model"
	obserrors "github.com/scoutline/scout-api/internal/observability/errors"
	"github.com/scoutline/scout-api/internal/observability/metrics"
	"github.com/scoutline/scout-api/internal/observability/statsd"
)

const (
	// DefaultGroupSize is the number of prospects analyzed concurrently when
	// the submission does not specify one.
	DefaultGroupSize = 5
	// DefaultMaxGroupSize caps the per-group fan-out when no cap is configured.
	DefaultMaxGroupSize = 10

	defaultPollInterval = 5 * time.Second
)

// Options configures the run executor.
type Options struct {
	Queue    core.JobQueue
	Runs     core.RunRepository
	Results  core.ResultRepository
	Analyzer core.Analyzer

	Logger  *slog.Logger
	Metrics statsd.Sink

	// Workers is the number of concurrent job-processing goroutines; defaults to 1.
	Workers int
	// PollInterval bounds how long an idle worker waits before re-checking the
	// queue without a notification; defaults to 5s.
	PollInterval time.Duration
	// MaxGroupSize caps the per-submission group size override; defaults to
	// DefaultMaxGroupSize.
	MaxGroupSize int
}

// Executor pulls scoring jobs from the queue and executes them.
// Groups within a job run sequentially; items within a group run concurrently.
type Executor struct {
	queue    core.JobQueue
	runs     core.RunRepository
	results  core.ResultRepository
	analyzer core.Analyzer

	logger       *slog.Logger
	metrics      statsd.Sink
	workers      int
	pollInterval time.Duration
	maxGroupSize int
}

// New constructs an Executor, validating required collaborators.
func New(opts Options) (*Executor, error) {
	if opts.Queue == nil {
		return nil, errors.New("job queue is required")
	}
	if opts.Runs == nil {
		return nil, errors.New("run repository is required")
	}
	if opts.Results == nil {
		return nil, errors.New("result repository is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	maxGroupSize := opts.MaxGroupSize
	if maxGroupSize <= 0 {
		maxGroupSize = DefaultMaxGroupSize
	}

	return &Executor{
		queue:        opts.Queue,
		runs:         opts.Runs,
		results:      opts.Results,
		analyzer:     opts.Analyzer,
		logger:       logger.With("component", "executor"),
		metrics:      opts.Metrics,
		workers:      workers,
		pollInterval: pollInterval,
		maxGroupSize: maxGroupSize,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "starting executor", "workers", e.workers)

	unsub, notify := e.queue.Subscribe()
	defer unsub()

	g, ctx := errgroup.WithContext(ctx)
	for range e.workers {
		g.Go(func() error {
			return e.workerLoop(ctx, notify)
		})
	}
	return g.Wait()
}

func (e *Executor) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		job := e.queue.ClaimNext()
		if job != nil {
			e.processJob(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-notify:
		case <-ticker.C:
		}
	}
	return nil
}

// processJob executes one scoring job end to end. Cancellation is observed
// only at group boundaries so in-flight items always finish and get recorded.
func (e *Executor) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	logger := e.logger.With("job_id", job.ID, "run_id", job.Payload.RunID)

	emit := func(transition, result string, err error) {
		metrics.EmitRunLifecycle(e.metrics, metrics.RunMetric{
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Items:      len(job.Payload.Prospects),
			Err:        err,
		})
	}

	jobCtx, ok := e.queue.JobContext(job.ID)
	if !ok {
		jobCtx = context.Background()
	}
	// Item work runs on a context detached from both the worker context and
	// the job's cancellation context: an item already in flight always
	// finishes and its result is recorded. Cancellation and shutdown are
	// observed only at group boundaries.
	workCtx := context.WithoutCancel(ctx)

	if _, err := e.runs.MarkProcessing(workCtx, job.Payload.RunID); err != nil {
		e.failJob(workCtx, logger, job, fmt.Errorf("mark run processing: %w", err))
		emit("started", metrics.ResultError, err)
		return
	}
	logger.InfoContext(workCtx, "run processing",
		"total_items", job.Progress.Total, "group_size", e.groupSize(job))

	err := e.processGroups(ctx, jobCtx, workCtx, logger, job)
	switch {
	case errors.Is(err, errJobCancelled):
		// The run row stays as-is; a later resume picks up the remainder.
		if merr := e.queue.MarkCancelled(job.ID); merr != nil {
			logger.ErrorContext(workCtx, "mark job cancelled", "error", merr)
		}
		logger.InfoContext(workCtx, "job cancelled at group boundary")
		emit("cancelled", metrics.ResultCancelled, nil)
	case err != nil:
		e.failJob(workCtx, logger, job, err)
		emit("failed", metrics.ResultError, err)
	default:
		e.completeJob(workCtx, logger, job)
		emit("completed", metrics.ResultSuccess, nil)
	}
}

// errJobCancelled distinguishes cooperative cancellation from genuine failures.
var errJobCancelled = errors.New("job cancelled")

func (e *Executor) groupSize(job *model.Job) int {
	size := job.Payload.GroupSize
	if size <= 0 {
		size = DefaultGroupSize
	}
	if size > e.maxGroupSize {
		size = e.maxGroupSize
	}
	return size
}

func (e *Executor) processGroups(
	ctx, jobCtx, workCtx context.Context,
	logger *slog.Logger,
	job *model.Job,
) error {
	prospects := job.Payload.Prospects
	size := e.groupSize(job)

	var done atomic.Int64
	for offset := 0; offset < len(prospects); offset += size {
		// Group boundary: stop here when the job is cancelled or the worker
		// is shutting down, never mid-group.
		if ctx.Err() != nil || jobCtx.Err() != nil {
			return errJobCancelled
		}

		end := min(offset+size, len(prospects))
		if err := e.processGroup(workCtx, logger, job, prospects[offset:end], &done); err != nil {
			return err
		}
	}
	return nil
}

// processGroup scores one group of prospects concurrently. Analyzer failures
// are recorded as failed items; only persistence failures abort the run.
func (e *Executor) processGroup(
	ctx context.Context,
	logger *slog.Logger,
	job *model.Job,
	group []string,
	done *atomic.Int64,
) error {
	var wg sync.WaitGroup
	errs := make([]error, len(group))

	for i, prospect := range group {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.processItem(ctx, logger, job, prospect, done)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (e *Executor) processItem(
	ctx context.Context,
	logger *slog.Logger,
	job *model.Job,
	prospect string,
	done *atomic.Int64,
) error {
	itemStart := time.Now()
	req := &model.CreateResultRequest{RunID: job.Payload.RunID, Prospect: prospect}

	analysis, err := e.analyzer.Analyze(ctx, prospect, job.Payload.Profile)
	if err != nil {
		// A failed analysis still counts as a finished item.
		req.Error = err.Error()
		logger.WarnContext(ctx, "prospect analysis failed",
			"prospect", prospect, "error", err, "error_class", obserrors.Classify(err))
		metrics.EmitItemOutcome(e.metrics, metrics.ResultError, time.Since(itemStart), err)
	} else {
		req.Analysis = analysis
		metrics.EmitItemOutcome(e.metrics, metrics.ResultSuccess, time.Since(itemStart), nil)
	}

	if _, err := e.results.Create(ctx, req); err != nil {
		return fmt.Errorf("persist result for %s: %w", prospect, err)
	}
	if _, err := e.runs.IncrementProgress(ctx, job.Payload.RunID); err != nil {
		return fmt.Errorf("increment progress for %s: %w", prospect, err)
	}

	completed := int(done.Add(1))
	if err := e.queue.UpdateProgress(job.ID, completed, job.Progress.Total); err != nil {
		logger.WarnContext(ctx, "update job progress", "error", err)
	}
	return nil
}

func (e *Executor) completeJob(ctx context.Context, logger *slog.Logger, job *model.Job) {
	run, err := e.runs.GetByID(ctx, job.Payload.RunID)
	if err != nil {
		e.failJob(ctx, logger, job, fmt.Errorf("load run after processing: %w", err))
		return
	}

	if run.CompletedCount >= run.TotalItems {
		if _, err := e.runs.SetTerminal(ctx, core.SetRunTerminalParams{
			ID:     run.ID,
			Status: model.RunStatusCompleted,
		}); err != nil {
			e.failJob(ctx, logger, job, fmt.Errorf("complete run: %w", err))
			return
		}
	}

	if err := e.queue.Complete(job.ID); err != nil {
		logger.ErrorContext(ctx, "complete job", "error", err)
	}
	logger.InfoContext(ctx, "run processed",
		"completed", run.CompletedCount, "total", run.TotalItems)
}

// failJob marks both the durable run and the in-memory job failed. The run
// update is attempted first so the authoritative record never lags the queue.
func (e *Executor) failJob(ctx context.Context, logger *slog.Logger, job *model.Job, cause error) {
	logger.ErrorContext(ctx, "run execution failed",
		"error", cause, "error_class", obserrors.Classify(cause))

	if _, err := e.runs.SetTerminal(ctx, core.SetRunTerminalParams{
		ID:       job.Payload.RunID,
		Status:   model.RunStatusFailed,
		ErrorMsg: cause.Error(),
	}); err != nil {
		logger.ErrorContext(ctx, "fail run", "error", err)
	}

	if err := e.queue.Fail(job.ID, cause.Error()); err != nil {
		logger.ErrorContext(ctx, "fail job", "error", err)
	}
}
