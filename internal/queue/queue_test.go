package queue

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/scoutline/scout-api/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue() *Queue {
	return New(Options{})
}

func enqueueReq(runID, ownerID string, prospects ...string) *model.EnqueueJobRequest {
	if len(prospects) == 0 {
		prospects = []string{"acme-corp"}
	}
	return &model.EnqueueJobRequest{
		Type: model.JobTypeScoring,
		Payload: model.JobPayload{
			RunID:     runID,
			OwnerID:   ownerID,
			Prospects: prospects,
			Profile:   json.RawMessage(`{"industry":"saas"}`),
			GroupSize: 5,
		},
	}
}

func TestQueue_Enqueue(t *testing.T) {
	t.Run("creates pending job with progress total", func(t *testing.T) {
		q := newTestQueue()

		job, err := q.Enqueue(enqueueReq("run-1", "owner-1", "a", "b", "c"))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, job.Status)
		assert.Equal(t, 3, job.Progress.Total)
		assert.Equal(t, 0, job.Progress.Completed)
		assert.NotEmpty(t, job.ID)
	})

	t.Run("rejects second job for same run while first is non-terminal", func(t *testing.T) {
		q := newTestQueue()

		_, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)

		_, err = q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.ErrorIs(t, err, ErrRunAlreadyQueued)
	})

	t.Run("allows re-enqueue after terminal", func(t *testing.T) {
		q := newTestQueue()

		job, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)
		require.NoError(t, q.Complete(job.ID))

		_, err = q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)
	})

	t.Run("rejects invalid request", func(t *testing.T) {
		q := newTestQueue()

		_, err := q.Enqueue(&model.EnqueueJobRequest{Type: model.JobTypeScoring})
		require.Error(t, err)
	})
}

func TestQueue_ClaimNext(t *testing.T) {
	t.Run("claims oldest pending first", func(t *testing.T) {
		now := time.Now()
		clock := now
		q := New(Options{Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}})

		first, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)
		_, err = q.Enqueue(enqueueReq("run-2", "owner-1"))
		require.NoError(t, err)

		claimed := q.ClaimNext()
		require.NotNil(t, claimed)
		assert.Equal(t, first.ID, claimed.ID)
		assert.Equal(t, model.JobStatusRunning, claimed.Status)
		assert.NotNil(t, claimed.StartedAt)
		assert.Equal(t, 1, claimed.Attempts)
	})

	t.Run("returns nil when nothing pending", func(t *testing.T) {
		q := newTestQueue()
		assert.Nil(t, q.ClaimNext())
	})

	t.Run("only one concurrent claimer wins per job", func(t *testing.T) {
		q := newTestQueue()
		_, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)

		const claimers = 16
		var wg sync.WaitGroup
		wins := make(chan string, claimers)
		for range claimers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if job := q.ClaimNext(); job != nil {
					wins <- job.ID
				}
			}()
		}
		wg.Wait()
		close(wins)

		var count int
		for range wins {
			count++
		}
		assert.Equal(t, 1, count)
	})
}

func TestQueue_UpdateProgress(t *testing.T) {
	q := newTestQueue()
	job, err := q.Enqueue(enqueueReq("run-1", "owner-1", "a", "b", "c"))
	require.NoError(t, err)

	t.Run("accepts monotonic updates", func(t *testing.T) {
		require.NoError(t, q.UpdateProgress(job.ID, 1, 3))
		require.NoError(t, q.UpdateProgress(job.ID, 2, 3))

		got, ok := q.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, 2, got.Progress.Completed)
	})

	t.Run("rejects decreasing values", func(t *testing.T) {
		err := q.UpdateProgress(job.ID, 1, 3)
		require.ErrorIs(t, err, ErrProgressDecreased)
	})

	t.Run("unknown job", func(t *testing.T) {
		err := q.UpdateProgress("missing", 1, 3)
		require.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestQueue_TerminalTransitions(t *testing.T) {
	t.Run("complete then complete is a no-op", func(t *testing.T) {
		q := newTestQueue()
		job, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)

		require.NoError(t, q.Complete(job.ID))
		require.NoError(t, q.Complete(job.ID))

		got, ok := q.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("fail records error once", func(t *testing.T) {
		q := newTestQueue()
		job, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)

		require.NoError(t, q.Fail(job.ID, "store unavailable"))
		require.NoError(t, q.Fail(job.ID, "a different error"))

		got, ok := q.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "store unavailable", *got.Error)
	})

	t.Run("terminal releases the run for re-enqueue", func(t *testing.T) {
		q := newTestQueue()
		job, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)
		require.NoError(t, q.Fail(job.ID, "boom"))

		_, ok := q.ActiveJobForRun("run-1")
		assert.False(t, ok)
	})
}

func TestQueue_Cancel(t *testing.T) {
	t.Run("pending job cancels immediately", func(t *testing.T) {
		q := newTestQueue()
		job, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)

		assert.True(t, q.Cancel(job.ID))

		got, ok := q.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
	})

	t.Run("running job cancels cooperatively via context", func(t *testing.T) {
		q := newTestQueue()
		job, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)
		require.NotNil(t, q.ClaimNext())

		ctx, ok := q.JobContext(job.ID)
		require.True(t, ok)
		require.NoError(t, ctx.Err())

		assert.True(t, q.Cancel(job.ID))
		assert.Error(t, ctx.Err())

		// Still running until the executor observes the signal.
		got, _ := q.Get(job.ID)
		assert.Equal(t, model.JobStatusRunning, got.Status)

		require.NoError(t, q.MarkCancelled(job.ID))
		got, _ = q.Get(job.ID)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
	})

	t.Run("terminal job cannot be cancelled", func(t *testing.T) {
		q := newTestQueue()
		job, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
		require.NoError(t, err)
		require.NoError(t, q.Complete(job.ID))

		assert.False(t, q.Cancel(job.ID))
	})

	t.Run("unknown job cannot be cancelled", func(t *testing.T) {
		q := newTestQueue()
		assert.False(t, q.Cancel("missing"))
	})
}

func TestQueue_List(t *testing.T) {
	q := newTestQueue()

	for _, runID := range []string{"run-1", "run-2", "run-3"} {
		_, err := q.Enqueue(enqueueReq(runID, "owner-1"))
		require.NoError(t, err)
	}
	other, err := q.Enqueue(enqueueReq("run-4", "owner-2"))
	require.NoError(t, err)

	t.Run("scoped to owner", func(t *testing.T) {
		jobs := q.List(model.JobListOptions{OwnerID: "owner-1"})
		assert.Len(t, jobs, 3)
		for _, j := range jobs {
			assert.NotEqual(t, other.ID, j.ID)
		}
	})

	t.Run("status filter", func(t *testing.T) {
		jobs := q.List(model.JobListOptions{OwnerID: "owner-1", Status: model.JobStatusRunning})
		assert.Empty(t, jobs)
	})

	t.Run("pagination", func(t *testing.T) {
		jobs := q.List(model.JobListOptions{OwnerID: "owner-1", Limit: 2})
		assert.Len(t, jobs, 2)

		jobs = q.List(model.JobListOptions{OwnerID: "owner-1", Offset: 2})
		assert.Len(t, jobs, 1)

		jobs = q.List(model.JobListOptions{OwnerID: "owner-1", Offset: 10})
		assert.Empty(t, jobs)
	})
}

func TestQueue_Subscribe(t *testing.T) {
	q := newTestQueue()
	unsub, ch := q.Subscribe()
	defer unsub()

	_, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected enqueue notification")
	}
}

func TestQueue_EvictTerminal(t *testing.T) {
	base := time.Now()
	clock := base
	q := New(Options{Now: func() time.Time { return clock }})

	done, err := q.Enqueue(enqueueReq("run-1", "owner-1"))
	require.NoError(t, err)
	require.NoError(t, q.Complete(done.ID))

	active, err := q.Enqueue(enqueueReq("run-2", "owner-1"))
	require.NoError(t, err)

	clock = base.Add(2 * time.Hour)
	evicted := q.EvictTerminal(time.Hour)
	assert.Equal(t, 1, evicted)

	_, ok := q.Get(done.ID)
	assert.False(t, ok)
	_, ok = q.Get(active.ID)
	assert.True(t, ok)
}

func TestQueue_CopySemantics(t *testing.T) {
	q := newTestQueue()
	job, err := q.Enqueue(enqueueReq("run-1", "owner-1", "a", "b"))
	require.NoError(t, err)

	// Mutating the returned copy must not touch queue state.
	job.Status = model.JobStatusFailed
	job.Payload.Prospects[0] = "mutated"

	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Equal(t, "a", got.Payload.Prospects[0])
}
