package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/domain/model"
	"github.com/scoutline/scout-api/internal/queue"
)

// fakeRunRepo is an in-memory core.RunRepository for executor tests. Like the
// real pgx-backed repository, every method refuses to work on a cancelled
// context.
type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[string]*model.Run

	incrementErr error
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[string]*model.Run)}
}

func (f *fakeRunRepo) addRun(id string, total int) *model.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := &model.Run{
		ID:         id,
		OwnerID:    "owner-1",
		ProfileID:  "profile-1",
		Status:     model.RunStatusPending,
		TotalItems: total,
		CreatedAt:  time.Now(),
	}
	f.runs[id] = run
	return run
}

func (f *fakeRunRepo) get(id string) *model.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := *f.runs[id]
	return &run
}

func (f *fakeRunRepo) Create(context.Context, *model.CreateRunRequest) (*model.Run, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunRepo) GetByID(ctx context.Context, id string) (*model.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	cp := *run
	return &cp, nil
}

func (f *fakeRunRepo) GetPayload(context.Context, string) (*model.RunPayload, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return false, fmt.Errorf("run not found: %s", id)
	}
	if run.Status != model.RunStatusPending {
		return false, nil
	}
	run.Status = model.RunStatusProcessing
	return true, nil
}

func (f *fakeRunRepo) IncrementProgress(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrementErr != nil {
		return 0, f.incrementErr
	}
	run, ok := f.runs[id]
	if !ok {
		return 0, fmt.Errorf("run not found: %s", id)
	}
	if run.Status.Terminal() || run.CompletedCount >= run.TotalItems {
		return 0, errors.New("run immutable")
	}
	run.CompletedCount++
	return run.CompletedCount, nil
}

func (f *fakeRunRepo) SetTerminal(ctx context.Context, params core.SetRunTerminalParams) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[params.ID]
	if !ok {
		return false, fmt.Errorf("run not found: %s", params.ID)
	}
	if run.Status.Terminal() {
		return false, nil
	}
	run.Status = params.Status
	if params.ErrorMsg != "" {
		msg := params.ErrorMsg
		run.LastError = &msg
	}
	now := time.Now()
	run.CompletedAt = &now
	return true, nil
}

func (f *fakeRunRepo) FindActive(context.Context) ([]*model.Run, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunRepo) RecoverStuck(context.Context, core.RecoverStuckRunsParams) ([]*model.Run, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunRepo) DeleteOldTerminal(context.Context, core.DeleteOldRunsParams) (int64, error) {
	return 0, errors.New("not implemented")
}

// fakeResultRepo records created results. Create honors context cancellation
// like the real repository.
type fakeResultRepo struct {
	mu      sync.Mutex
	results map[string]*model.Result

	createErr error
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{results: make(map[string]*model.Result)}
}

func (f *fakeResultRepo) Create(ctx context.Context, req *model.CreateResultRequest) (*model.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	key := req.RunID + "/" + req.Prospect
	if existing, ok := f.results[key]; ok {
		return existing, nil
	}
	result := &model.Result{
		ID:       key,
		RunID:    req.RunID,
		Prospect: req.Prospect,
		Status:   req.Status(),
	}
	if req.Analysis != nil {
		score := req.Analysis.Score
		result.Score = &score
		result.Classification = req.Analysis.Classification
	} else {
		msg := req.Error
		result.Error = &msg
	}
	f.results[key] = result
	return result, nil
}

func (f *fakeResultRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

func (f *fakeResultRepo) byProspect(runID, prospect string) *model.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[runID+"/"+prospect]
}

func (f *fakeResultRepo) ListByRun(context.Context, model.ResultListOptions) ([]*model.Result, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeResultRepo) CountByRun(context.Context, model.ResultListOptions) (int, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeResultRepo) ProspectsByRun(context.Context, string) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeResultRepo) Stats(context.Context, string) (*model.RunStats, error) {
	return nil, errors.New("not implemented")
}

// scriptedAnalyzer returns canned outcomes per prospect and can invoke a hook
// before answering. A cancelled context aborts the call the way an HTTP
// client would.
type scriptedAnalyzer struct {
	mu       sync.Mutex
	failures map[string]error
	onCall   func(prospect string)
	calls    []string
}

func (s *scriptedAnalyzer) Analyze(ctx context.Context, prospect string, _ json.RawMessage) (*model.Analysis, error) {
	s.mu.Lock()
	s.calls = append(s.calls, prospect)
	hook := s.onCall
	failure := s.failures[prospect]
	s.mu.Unlock()

	if hook != nil {
		hook(prospect)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}
	return &model.Analysis{
		Score:          0.7,
		Classification: "strong_fit",
		Rationale:      "looks good",
	}, nil
}

func (s *scriptedAnalyzer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type executorFixture struct {
	queue    *queue.Queue
	runs     *fakeRunRepo
	results  *fakeResultRepo
	analyzer *scriptedAnalyzer
	executor *Executor
}

func newFixture(t *testing.T) *executorFixture {
	t.Helper()

	q := queue.New(queue.Options{})
	runs := newFakeRunRepo()
	results := newFakeResultRepo()
	analyzer := &scriptedAnalyzer{failures: make(map[string]error)}

	exec, err := New(Options{
		Queue:    q,
		Runs:     runs,
		Results:  results,
		Analyzer: analyzer,
	})
	require.NoError(t, err)

	return &executorFixture{
		queue:    q,
		runs:     runs,
		results:  results,
		analyzer: analyzer,
		executor: exec,
	}
}

func (f *executorFixture) enqueue(t *testing.T, runID string, prospects []string, groupSize int) *model.Job {
	t.Helper()
	f.runs.addRun(runID, len(prospects))
	job, err := f.queue.Enqueue(&model.EnqueueJobRequest{
		Type: model.JobTypeScoring,
		Payload: model.JobPayload{
			RunID:     runID,
			OwnerID:   "owner-1",
			Prospects: prospects,
			Profile:   json.RawMessage(`{"role":"engineer"}`),
			GroupSize: groupSize,
		},
	})
	require.NoError(t, err)
	return job
}

func TestNew(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestProcessJobSuccess(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "run-1", []string{"alice", "bob", "carol"}, 2)

	job := f.queue.ClaimNext()
	require.NotNil(t, job)
	f.executor.processJob(context.Background(), job)

	run := f.runs.get("run-1")
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.CompletedCount)
	assert.Equal(t, 3, f.results.count())
	assert.Equal(t, 3, f.analyzer.callCount())

	done, ok := f.queue.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCompleted, done.Status)
	assert.Equal(t, 3, done.Progress.Completed)
}

func TestProcessJobAnalyzerFailureIsItemLevel(t *testing.T) {
	f := newFixture(t)
	f.analyzer.failures["bob"] = errors.New("analyzer overloaded")
	f.enqueue(t, "run-1", []string{"alice", "bob", "carol"}, 3)

	job := f.queue.ClaimNext()
	require.NotNil(t, job)
	f.executor.processJob(context.Background(), job)

	// A failed analysis still finishes the item and the run.
	run := f.runs.get("run-1")
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.CompletedCount)

	failed := f.results.byProspect("run-1", "bob")
	require.NotNil(t, failed)
	assert.Equal(t, model.ResultStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "analyzer overloaded")

	ok := f.results.byProspect("run-1", "alice")
	require.NotNil(t, ok)
	assert.Equal(t, model.ResultStatusCompleted, ok.Status)
}

func TestProcessJobStoreFailureFailsRun(t *testing.T) {
	f := newFixture(t)
	f.results.createErr = errors.New("disk full")
	f.enqueue(t, "run-1", []string{"alice"}, 1)

	job := f.queue.ClaimNext()
	require.NotNil(t, job)
	f.executor.processJob(context.Background(), job)

	run := f.runs.get("run-1")
	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.NotNil(t, run.LastError)
	assert.Contains(t, *run.LastError, "disk full")

	done, ok := f.queue.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusFailed, done.Status)
}

func TestProcessJobCancellationStopsAtGroupBoundary(t *testing.T) {
	f := newFixture(t)
	queued := f.enqueue(t, "run-1", []string{"alice", "bob", "carol"}, 1)

	// Cancel the running job while the first item is in flight. With group
	// size 1 the executor must stop before starting the second group.
	var once sync.Once
	f.analyzer.onCall = func(string) {
		once.Do(func() { f.queue.Cancel(queued.ID) })
	}

	job := f.queue.ClaimNext()
	require.NotNil(t, job)
	f.executor.processJob(context.Background(), job)

	// The in-flight item finished and was recorded; the rest never started.
	assert.Equal(t, 1, f.analyzer.callCount())
	assert.Equal(t, 1, f.results.count())

	run := f.runs.get("run-1")
	assert.Equal(t, model.RunStatusProcessing, run.Status)
	assert.Equal(t, 1, run.CompletedCount)

	done, ok := f.queue.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCancelled, done.Status)
}

func TestProcessJobMidGroupCancelPersistsInFlightItems(t *testing.T) {
	f := newFixture(t)
	queued := f.enqueue(t, "run-1", []string{"alice", "bob", "carol", "dave"}, 2)

	// Cancel while the first group's items are in flight. Both items must
	// finish and persist; the second group must never start.
	var once sync.Once
	f.analyzer.onCall = func(string) {
		once.Do(func() { f.queue.Cancel(queued.ID) })
	}

	job := f.queue.ClaimNext()
	require.NotNil(t, job)
	f.executor.processJob(context.Background(), job)

	assert.Equal(t, 2, f.analyzer.callCount())
	assert.Equal(t, 2, f.results.count())

	run := f.runs.get("run-1")
	assert.Equal(t, model.RunStatusProcessing, run.Status)
	assert.Equal(t, 2, run.CompletedCount)
	assert.Nil(t, run.LastError)

	done, ok := f.queue.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusCancelled, done.Status)
}

func TestProcessJobShutdownMidGroupKeepsRunResumable(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "run-1", []string{"alice", "bob"}, 1)

	// Worker shutdown while an item is in flight: the item still persists
	// and the run stays active for a later resume, never force-failed.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	f.analyzer.onCall = func(string) {
		once.Do(cancel)
	}

	job := f.queue.ClaimNext()
	require.NotNil(t, job)
	f.executor.processJob(ctx, job)

	assert.Equal(t, 1, f.results.count())

	run := f.runs.get("run-1")
	assert.Equal(t, model.RunStatusProcessing, run.Status)
	assert.Equal(t, 1, run.CompletedCount)
	assert.Nil(t, run.LastError)
}

func TestProcessJobGroupSizeClamped(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "run-1", []string{"alice"}, 10_000)

	job := f.queue.ClaimNext()
	require.NotNil(t, job)
	assert.Equal(t, DefaultMaxGroupSize, f.executor.groupSize(job))

	capped, err := New(Options{
		Queue:        f.queue,
		Runs:         f.runs,
		Results:      f.results,
		Analyzer:     f.analyzer,
		MaxGroupSize: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, capped.groupSize(job))

	job.Payload.GroupSize = 0
	assert.Equal(t, DefaultGroupSize, f.executor.groupSize(job))
}

func TestRunProcessesEnqueuedJobs(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.executor.Run(ctx) }()

	f.enqueue(t, "run-1", []string{"alice", "bob"}, 2)

	require.Eventually(t, func() bool {
		return f.runs.get("run-1").Status == model.RunStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop after cancellation")
	}
}
