// Package queue provides the in-process job queue driving run execution.
//
// Job state lives in memory only: it is progress bookkeeping, not the system of
// record. The durable run row is authoritative, and a run whose process restarts
// is recovered by the run manager's staleness sweep rather than resumed from
// exact queue state.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when a job id is not in the queue.
	ErrJobNotFound = errors.New("job not found")
	// ErrRunAlreadyQueued is returned when a non-terminal job already references the run.
	ErrRunAlreadyQueued = errors.New("run already has an active job")
	// ErrProgressDecreased is returned when a progress update would move backwards.
	ErrProgressDecreased = errors.New("progress must be monotonic")
)

// entry is the queue's internal record for one job. The cancel func backs
// cooperative cancellation: item tasks receive ctx and the executor checks it
// between groups.
type entry struct {
	job    model.Job
	ctx    context.Context
	cancel context.CancelFunc
}

// Options groups dependencies for Queue.
type Options struct {
	Logger *slog.Logger     // Optional: structured logger
	Now    func() time.Time // Optional: clock override for tests
}

// Queue is an in-memory job registry with a status state machine.
// All methods are safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	jobs   map[string]*entry
	byRun  map[string]string // run id -> active (non-terminal) job id
	subs   map[chan struct{}]struct{}
	logger *slog.Logger
	now    func() time.Time
}

var _ core.JobQueue = (*Queue)(nil)

// New constructs an empty Queue.
func New(opts Options) *Queue {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_queue")
	}

	return &Queue{
		jobs:   make(map[string]*entry),
		byRun:  make(map[string]string),
		subs:   make(map[chan struct{}]struct{}),
		logger: logger,
		now:    now,
	}
}

// Enqueue creates a pending job for a run. It rejects the request when another
// non-terminal job already references the same run (single-flight). Enforcing
// this at enqueue time, not claim time, closes the race where two jobs for the
// same run could both be claimed.
func (q *Queue) Enqueue(req *model.EnqueueJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("enqueue request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	runID := req.Payload.RunID
	if activeID, ok := q.byRun[runID]; ok {
		return nil, fmt.Errorf("%w: run %s is driven by job %s", ErrRunAlreadyQueued, runID, activeID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		job: model.Job{
			ID:          uuid.NewString(),
			Type:        req.Type,
			Status:      model.JobStatusPending,
			Payload:     req.Payload,
			MaxAttempts: req.MaxAttempts,
			Progress:    model.JobProgress{Total: len(req.Payload.Prospects)},
			CreatedAt:   q.now(),
		},
		ctx:    ctx,
		cancel: cancel,
	}

	q.jobs[e.job.ID] = e
	q.byRun[runID] = e.job.ID
	q.notifyLocked()

	if q.logger != nil {
		q.logger.Debug("job enqueued", "id", e.job.ID, "run_id", runID, "items", e.job.Progress.Total)
	}

	return copyJob(&e.job), nil
}

// ClaimNext claims the oldest pending job, transitioning it to running.
// Returns nil when no pending job exists. Only one claimer can win a job:
// selection and transition happen under the queue lock.
func (q *Queue) ClaimNext() *model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var oldest *entry
	for _, e := range q.jobs {
		if e.job.Status != model.JobStatusPending {
			continue
		}
		if oldest == nil || e.job.CreatedAt.Before(oldest.job.CreatedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil
	}

	now := q.now()
	oldest.job.Status = model.JobStatusRunning
	oldest.job.StartedAt = &now
	oldest.job.Attempts++

	if q.logger != nil {
		q.logger.Debug("job claimed", "id", oldest.job.ID, "run_id", oldest.job.Payload.RunID)
	}

	return copyJob(&oldest.job)
}

// UpdateProgress records the completed/total mirror for a job.
// Decreasing values are rejected; the mirror is advisory but still monotonic.
func (q *Queue) UpdateProgress(id string, completed, total int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if completed < e.job.Progress.Completed || total < e.job.Progress.Total {
		return fmt.Errorf("%w: job %s has %d/%d, got %d/%d",
			ErrProgressDecreased, id,
			e.job.Progress.Completed, e.job.Progress.Total, completed, total)
	}

	e.job.Progress = model.JobProgress{Completed: completed, Total: total}
	return nil
}

// Complete marks a job completed. Calling it on an already-terminal job is a
// no-op, not an error, to tolerate duplicate completion signals.
func (q *Queue) Complete(id string) error {
	return q.finish(id, model.JobStatusCompleted, "")
}

// Fail marks a job failed with the given error message. Idempotent like Complete.
func (q *Queue) Fail(id, errMsg string) error {
	return q.finish(id, model.JobStatusFailed, errMsg)
}

func (q *Queue) finish(id string, status model.JobStatus, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if e.job.Status.Terminal() {
		return nil
	}

	q.terminateLocked(e, status, errMsg)
	return nil
}

// Cancel requests cooperative cancellation of a pending or running job.
// Returns false when the job is unknown or already terminal. A running job's
// in-flight group always finishes; cancellation only prevents the next group.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok || e.job.Status.Terminal() {
		return false
	}

	if e.job.Status == model.JobStatusPending {
		// Never claimed: terminal immediately, nothing in flight.
		q.terminateLocked(e, model.JobStatusCancelled, "")
		return true
	}

	// Running: signal the executor and let it transition the job at a group boundary.
	e.cancel()
	if q.logger != nil {
		q.logger.Debug("job cancellation requested", "id", id)
	}
	return true
}

// MarkCancelled records the terminal cancelled state once the executor has
// observed the cancellation and stopped.
func (q *Queue) MarkCancelled(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if e.job.Status.Terminal() {
		return nil
	}

	q.terminateLocked(e, model.JobStatusCancelled, "")
	return nil
}

// terminateLocked applies a terminal transition. Caller holds q.mu.
func (q *Queue) terminateLocked(e *entry, status model.JobStatus, errMsg string) {
	now := q.now()
	e.job.Status = status
	e.job.CompletedAt = &now
	if errMsg != "" {
		e.job.Error = &errMsg
	}
	e.cancel()
	delete(q.byRun, e.job.Payload.RunID)

	if q.logger != nil {
		q.logger.Debug("job terminal", "id", e.job.ID, "status", status, "error", errMsg)
	}
}

// Get returns a copy of the job, if present.
func (q *Queue) Get(id string) (*model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return copyJob(&e.job), true
}

// ActiveJobForRun returns the non-terminal job driving a run, if any.
func (q *Queue) ActiveJobForRun(runID string) (*model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, ok := q.byRun[runID]
	if !ok {
		return nil, false
	}
	e, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return copyJob(&e.job), true
}

// List returns jobs for an owner, newest first, with optional status filter
// and pagination. Jobs of other owners are never returned.
func (q *Queue) List(opts model.JobListOptions) []*model.Job {
	q.mu.Lock()
	matched := make([]*model.Job, 0)
	for _, e := range q.jobs {
		if e.job.Payload.OwnerID != opts.OwnerID {
			continue
		}
		if opts.Status != "" && e.job.Status != opts.Status {
			continue
		}
		matched = append(matched, copyJob(&e.job))
	}
	q.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*model.Job{}
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched
}

// JobContext returns the context cancelled when the job is cancelled.
// Item tasks derive from it so cancellation composes with executor shutdown.
func (q *Queue) JobContext(id string) (context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return e.ctx, true
}

// Subscribe registers for enqueue notifications. The returned channel receives
// a non-blocking signal whenever a job is enqueued; the unsubscribe func must
// be called to release the subscription.
func (q *Queue) Subscribe() (func(), <-chan struct{}) {
	ch := make(chan struct{}, 1)

	q.mu.Lock()
	q.subs[ch] = struct{}{}
	q.mu.Unlock()

	unsub := func() {
		q.mu.Lock()
		delete(q.subs, ch)
		q.mu.Unlock()
	}
	return unsub, ch
}

// notifyLocked signals all subscribers without blocking. Caller holds q.mu.
func (q *Queue) notifyLocked() {
	for ch := range q.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// EvictTerminal removes terminal jobs that reached their terminal state before
// the retention window, keeping owner listings bounded. Returns the count evicted.
func (q *Queue) EvictTerminal(olderThan time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	evicted := 0
	for id, e := range q.jobs {
		if !e.job.Status.Terminal() || e.job.CompletedAt == nil {
			continue
		}
		if e.job.CompletedAt.Before(cutoff) {
			delete(q.jobs, id)
			evicted++
		}
	}

	if evicted > 0 && q.logger != nil {
		q.logger.Debug("evicted terminal jobs", "count", evicted)
	}
	return evicted
}

// Len returns the number of jobs currently held in memory.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func copyJob(j *model.Job) *model.Job {
	c := *j
	c.Payload.Prospects = append([]string(nil), j.Payload.Prospects...)
	return &c
}
