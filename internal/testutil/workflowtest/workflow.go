// Package workflowtest provides end-to-end testing utilities for the scout run system.
package workflowtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/scoutline/scout-api/internal/adapters/analyzer"
	"github.com/scoutline/scout-api/internal/data"
	"github.com/scoutline/scout-api/internal/domain/model"
	"github.com/scoutline/scout-api/internal/executor"
	"github.com/scoutline/scout-api/internal/queue"
	"github.com/scoutline/scout-api/internal/service"
	"github.com/scoutline/scout-api/internal/testutil"
)

// Verdict is the canned analyzer response for one prospect.
type Verdict struct {
	Score           float64
	Classification  string
	Rationale       string
	MatchedCriteria []string
	Gaps            []string
}

// FakeAnalyzer is an httptest-backed stand-in for the external scoring
// service. Verdicts are configured per prospect; unconfigured prospects get
// the default verdict. Prospects registered with FailProspect answer 500.
type FakeAnalyzer struct {
	mu       sync.Mutex
	verdicts map[string]Verdict
	failures map[string]bool
	calls    []string
	delay    time.Duration

	Default Verdict
	Server  *httptest.Server
}

// NewFakeAnalyzer starts a fake analyzer HTTP server. Callers must Close it.
func NewFakeAnalyzer() *FakeAnalyzer {
	f := &FakeAnalyzer{
		verdicts: map[string]Verdict{},
		failures: map[string]bool{},
		Default: Verdict{
			Score:           0.5,
			Classification:  "moderate",
			Rationale:       "partial match",
			MatchedCriteria: []string{},
			Gaps:            []string{},
		},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handleAnalyze))
	return f
}

// SetVerdict registers the verdict returned for a prospect.
func (f *FakeAnalyzer) SetVerdict(prospect string, v Verdict) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdicts[prospect] = v
}

// FailProspect makes the analyzer answer 500 for a prospect.
func (f *FakeAnalyzer) FailProspect(prospect string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[prospect] = true
}

// SetDelay makes every analyze call sleep before answering.
func (f *FakeAnalyzer) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls returns the prospects analyzed so far, in call order.
func (f *FakeAnalyzer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// BaseURL returns the fake server's base URL.
func (f *FakeAnalyzer) BaseURL() string {
	return f.Server.URL
}

// Close shuts the fake server down.
func (f *FakeAnalyzer) Close() {
	f.Server.Close()
}

func (f *FakeAnalyzer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/analyze" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var req struct {
		Prospect string          `json:"prospect"`
		Profile  json.RawMessage `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Prospect)
	verdict, ok := f.verdicts[req.Prospect]
	if !ok {
		verdict = f.Default
	}
	failed := f.failures[req.Prospect]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failed {
		http.Error(w, "analyzer blew up", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	//nolint:errcheck // test server write
	json.NewEncoder(w).Encode(map[string]any{
		"score":            verdict.Score,
		"classification":   verdict.Classification,
		"rationale":        verdict.Rationale,
		"matched_criteria": verdict.MatchedCriteria,
		"gaps":             verdict.Gaps,
	})
}

// WorkflowTestOptions configures the workflow test harness.
type WorkflowTestOptions struct {
	Workers      int
	PollInterval time.Duration
}

// DefaultWorkflowOptions returns default options for workflow testing.
func DefaultWorkflowOptions() WorkflowTestOptions {
	return WorkflowTestOptions{
		Workers:      2,
		PollInterval: 50 * time.Millisecond,
	}
}

// WorkflowTestHarness wires the full run pipeline over a real database and a
// fake analyzer: repositories, queue, executor, and the owner-facing services.
//
//nolint:revive // WorkflowTestHarness is intentionally verbose for clarity in test code.
type WorkflowTestHarness struct {
	t  testutil.TestingTB
	db *sql.DB

	Analyzer *FakeAnalyzer
	Queue    *queue.Queue
	RunRepo  *data.RunRepo
	Results  *data.ResultRepo
	Runs     *service.RunService
	Status   *service.StatusService

	cancel context.CancelFunc
	done   chan error
}

// NewWorkflowTestHarness creates a harness with all components wired up and
// the executor already running.
func NewWorkflowTestHarness(t testutil.TestingTB, db *sql.DB, opts WorkflowTestOptions) *WorkflowTestHarness {
	t.Helper()

	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}

	fake := NewFakeAnalyzer()
	client, err := analyzer.NewClient(analyzer.ClientOptions{
		BaseURL: fake.BaseURL(),
		Timeout: 10 * time.Second,
	})
	if err != nil {
		fake.Close()
		t.Fatalf("build analyzer client: %v", err)
	}

	q := queue.New(queue.Options{})
	runRepo := data.NewRunRepo(db, data.RepoConfig{})
	resultRepo := data.NewResultRepo(db, data.RepoConfig{})

	runs := service.MustNewRunService(service.RunServiceOptions{
		Runs:    runRepo,
		Results: resultRepo,
		Queue:   q,
	})
	status, err := service.NewStatusService(service.StatusServiceOptions{
		Runs:    runRepo,
		Results: resultRepo,
		Queue:   q,
	})
	if err != nil {
		fake.Close()
		t.Fatalf("build status service: %v", err)
	}

	exec, err := executor.New(executor.Options{
		Queue:        q,
		Runs:         runRepo,
		Results:      resultRepo,
		Analyzer:     client,
		Workers:      opts.Workers,
		PollInterval: opts.PollInterval,
	})
	if err != nil {
		fake.Close()
		t.Fatalf("build executor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- exec.Run(ctx)
	}()

	return &WorkflowTestHarness{
		t:        t,
		db:       db,
		Analyzer: fake,
		Queue:    q,
		RunRepo:  runRepo,
		Results:  resultRepo,
		Runs:     runs,
		Status:   status,
		cancel:   cancel,
		done:     done,
	}
}

// Close stops the executor and the fake analyzer.
func (h *WorkflowTestHarness) Close() {
	h.cancel()
	var execErr error
	select {
	case err := <-h.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			execErr = err
		}
	case <-time.After(5 * time.Second):
		execErr = errors.New("executor did not stop within 5s")
	}
	h.Analyzer.Close()
	if execErr != nil {
		h.t.Fatalf("stop executor: %v", execErr)
	}
}

// SubmitRun submits a run for the given owner and returns it with its queue job.
func (h *WorkflowTestHarness) SubmitRun(ctx context.Context, req *model.CreateRunRequest) (*model.Run, *model.Job) {
	h.t.Helper()
	run, job, err := h.Runs.Create(ctx, req)
	if err != nil {
		h.t.Fatalf("submit run: %v", err)
	}
	return run, job
}

// WaitForTerminal polls the run until it reaches a terminal status.
func (h *WorkflowTestHarness) WaitForTerminal(ctx context.Context, runID string, timeout time.Duration) *model.Run {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		run, err := h.RunRepo.GetByID(ctx, runID)
		if err != nil {
			h.t.Fatalf("poll run %s: %v", runID, err)
		}
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(20 * time.Millisecond)
	}
	h.t.Fatalf("run %s did not reach a terminal status within %s", runID, timeout)
	return nil
}

// ResultsByProspect fetches all results for a run keyed by prospect.
func (h *WorkflowTestHarness) ResultsByProspect(ctx context.Context, runID string) map[string]*model.Result {
	h.t.Helper()

	results, err := h.Results.ListByRun(ctx, model.ResultListOptions{RunID: runID, Limit: 1000})
	if err != nil {
		h.t.Fatalf("list results for run %s: %v", runID, err)
	}
	out := make(map[string]*model.Result, len(results))
	for _, r := range results {
		out[r.Prospect] = r
	}
	return out
}

// WithWorkflowHarness sets up a harness over an isolated test database and
// tears everything down afterwards.
func WithWorkflowHarness(t testutil.TestingTB, opts WorkflowTestOptions, fn func(*WorkflowTestHarness)) {
	t.Helper()

	testutil.WithAutoDB(t, func(db *sql.DB) {
		h := NewWorkflowTestHarness(t, db, opts)
		defer h.Close()
		fn(h)
	})
}

// SimpleProfile returns a minimal scoring profile document for tests.
func SimpleProfile(criteria ...string) json.RawMessage {
	doc, err := json.Marshal(map[string]any{"criteria": criteria})
	if err != nil {
		panic(fmt.Sprintf("marshal profile: %v", err))
	}
	return doc
}
