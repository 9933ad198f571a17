// Package core defines the ports between the service layer and its collaborators.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/scoutline/scout-api/internal/domain/model"
)

// This file contains the repository and collaborator interface definitions
// (ports in hexagonal architecture). Service implementations should depend on
// these interfaces, not concrete implementations.

// RunRepository defines the interface for durable run state.
// The run row is the authoritative record for all external consumers.
type RunRepository interface {
	Create(ctx context.Context, req *model.CreateRunRequest) (*model.Run, error)
	GetByID(ctx context.Context, id string) (*model.Run, error)
	// GetPayload loads the persisted submission payload (prospects + profile snapshot).
	GetPayload(ctx context.Context, id string) (*model.RunPayload, error)
	// MarkProcessing transitions a pending run to processing; no-op (false) otherwise.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// IncrementProgress atomically increments completed_count and returns the new value.
	// The increment is a single UPDATE so concurrent item completions can never under-count.
	IncrementProgress(ctx context.Context, id string) (int, error)
	// SetTerminal moves a non-terminal run to a terminal status. Returns false when the
	// run was already terminal; terminal rows are immutable by construction.
	SetTerminal(ctx context.Context, params SetRunTerminalParams) (bool, error)
	FindActive(ctx context.Context) ([]*model.Run, error)
	// RecoverStuck force-fails active runs created before the cutoff and returns the rows touched.
	RecoverStuck(ctx context.Context, params RecoverStuckRunsParams) ([]*model.Run, error)
	// DeleteOldTerminal deletes terminal runs older than the cutoff, up to BatchSize rows
	// per call. Results cascade. Active runs are never deleted regardless of age.
	DeleteOldTerminal(ctx context.Context, params DeleteOldRunsParams) (int64, error)
}

// SetRunTerminalParams groups parameters for RunRepository.SetTerminal.
type SetRunTerminalParams struct {
	ID       string
	Status   model.RunStatus
	ErrorMsg string
}

// RecoverStuckRunsParams groups parameters for RunRepository.RecoverStuck.
type RecoverStuckRunsParams struct {
	Cutoff time.Time
	Reason string
}

// DeleteOldRunsParams groups parameters for RunRepository.DeleteOldTerminal.
type DeleteOldRunsParams struct {
	Cutoff    time.Time
	BatchSize int
}

// ResultRepository defines the interface for persisted per-prospect outcomes.
type ResultRepository interface {
	// Create inserts the outcome for one prospect. Inserting the same
	// (run, prospect) pair twice is a no-op returning the existing row.
	Create(ctx context.Context, req *model.CreateResultRequest) (*model.Result, error)
	ListByRun(ctx context.Context, opts model.ResultListOptions) ([]*model.Result, error)
	CountByRun(ctx context.Context, opts model.ResultListOptions) (int, error)
	// ProspectsByRun returns the prospect identifiers that already have a result row.
	ProspectsByRun(ctx context.Context, runID string) ([]string, error)
	Stats(ctx context.Context, runID string) (*model.RunStats, error)
}

// Analyzer is the external scoring collaborator, invoked once per prospect.
// It is fallible and possibly slow; callers perform no retries on its behalf.
type Analyzer interface {
	Analyze(ctx context.Context, prospect string, profile json.RawMessage) (*model.Analysis, error)
}

// JobQueue defines the in-process queue driving run execution.
// Exactly one non-terminal job may exist per run (single-flight).
type JobQueue interface {
	Enqueue(req *model.EnqueueJobRequest) (*model.Job, error)
	// ClaimNext atomically claims the oldest pending job, or returns nil when none exist.
	ClaimNext() *model.Job
	UpdateProgress(id string, completed, total int) error
	Complete(id string) error
	Fail(id, errMsg string) error
	Cancel(id string) bool
	// MarkCancelled records the terminal cancelled state once the executor has
	// observed a cancellation and stopped at a group boundary.
	MarkCancelled(id string) error
	Get(id string) (*model.Job, bool)
	ActiveJobForRun(runID string) (*model.Job, bool)
	List(opts model.JobListOptions) []*model.Job
	// JobContext returns a context cancelled when the job is cancelled.
	JobContext(id string) (context.Context, bool)
	// Subscribe returns an unsubscribe func and a channel signalled on enqueue.
	Subscribe() (func(), <-chan struct{})
	// EvictTerminal drops terminal jobs completed before the retention window.
	EvictTerminal(olderThan time.Duration) int
}
