package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/modegate/internal/workqueue"
)

func TestSynchronous_RunsInline(t *testing.T) {
	q := workqueue.New(false)
	rec := &doneRecorder{}
	s := NewSynchronous(q, rec.hooks(), nil, nil)

	q.AddTask(&workqueue.FuncItem{KindTag: "a"})
	q.AddTask(&workqueue.FuncItem{KindTag: "b"})
	s.NotifyQueued(context.Background())

	// NotifyQueued returns only after the inline drain finished.
	kinds, _, batches := rec.snapshot()
	assert.Equal(t, []string{"a", "b"}, kinds)
	assert.Equal(t, 1, batches)
	assert.True(t, q.IsEmpty())
}

func TestSynchronous_ReentrantSubmissionStaysOrdered(t *testing.T) {
	q := workqueue.New(false)
	rec := &doneRecorder{}
	s := NewSynchronous(q, rec.hooks(), nil, nil)

	// An item that queues another item mid-run must not recurse into a
	// nested drain; the active pass picks the new item up afterwards.
	q.AddTask(&workqueue.FuncItem{
		KindTag: "outer",
		RunFunc: func(ctx context.Context, _ workqueue.Progress) error {
			q.AddTask(&workqueue.FuncItem{KindTag: "inner"})
			s.NotifyQueued(ctx)
			kinds, _, _ := rec.snapshot()
			assert.Empty(t, kinds, "inner must not run while outer is running")
			return nil
		},
	})
	s.NotifyQueued(context.Background())

	kinds, _, _ := rec.snapshot()
	assert.Equal(t, []string{"outer", "inner"}, kinds)
}

func TestSynchronous_SuspendDefersExecution(t *testing.T) {
	q := workqueue.New(false)
	rec := &doneRecorder{}
	s := NewSynchronous(q, rec.hooks(), nil, nil)

	s.SuspendAndRun(context.Background(), func() {
		q.AddTask(&workqueue.FuncItem{KindTag: "deferred"})
		s.NotifyQueued(context.Background())
		kinds, _, _ := rec.snapshot()
		assert.Empty(t, kinds, "nothing may run while suspended")
	})

	kinds, _, _ := rec.snapshot()
	assert.Equal(t, []string{"deferred"}, kinds, "accumulated work runs at resume")
}

func TestSynchronous_SuspendNests(t *testing.T) {
	q := workqueue.New(false)
	rec := &doneRecorder{}
	s := NewSynchronous(q, rec.hooks(), nil, nil)

	s.SuspendAndRun(context.Background(), func() {
		s.SuspendAndRun(context.Background(), func() {
			q.AddTask(&workqueue.FuncItem{KindTag: "nested"})
		})
		kinds, _, _ := rec.snapshot()
		assert.Empty(t, kinds, "outer suspension still holds after inner resume")
	})

	kinds, _, _ := rec.snapshot()
	assert.Equal(t, []string{"nested"}, kinds)
}

func TestSynchronous_TryRunHere(t *testing.T) {
	q := workqueue.New(false)
	rec := &doneRecorder{}
	s := NewSynchronous(q, rec.hooks(), nil, nil)

	assert.False(t, s.TryRunHere(context.Background()), "empty queue runs nothing")

	q.AddTask(&workqueue.FuncItem{KindTag: "x"})
	assert.True(t, s.TryRunHere(context.Background()))
}

func TestSynchronous_CancelledContextRunsNothing(t *testing.T) {
	q := workqueue.New(false)
	rec := &doneRecorder{}
	s := NewSynchronous(q, rec.hooks(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q.AddTask(&workqueue.FuncItem{KindTag: "skipped"})
	assert.False(t, s.TryRunHere(ctx))
	assert.Equal(t, 1, q.Len(), "item stays queued for a later drain")
}

func TestSynchronous_PicksUpRacingSubmission(t *testing.T) {
	// A submission landing between the active drain's final empty poll and
	// its slot release must not be stranded: the holder re-checks the queue
	// after releasing. Iterate to give the race a chance to land.
	for i := 0; i < 200; i++ {
		q := workqueue.New(false)
		var count atomic.Int32
		hooks := Hooks{
			ItemDone:  func(workqueue.WorkItem, error) { count.Add(1) },
			BatchDone: func() {},
		}
		s := NewSynchronous(q, hooks, nil, nil)

		var wg sync.WaitGroup
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				q.AddTask(&workqueue.FuncItem{KindTag: "burst"})
				s.NotifyQueued(context.Background())
			}()
		}
		wg.Wait()

		// NotifyQueued returns only after any drain it owns finished, so by
		// now every submission must have run on one of the two callers.
		require.True(t, q.IsEmpty(), "submission stranded in the queue")
		require.Equal(t, int32(2), count.Load(), "not every submission ran")
	}
}

func TestSynchronous_CancelIfRunning(t *testing.T) {
	q := workqueue.New(false)
	rec := &doneRecorder{}
	s := NewSynchronous(q, rec.hooks(), nil, nil)

	var inFlight workqueue.WorkItem
	item := &workqueue.FuncItem{
		KindTag: "self-cancel",
		RunFunc: func(ctx context.Context, _ workqueue.Progress) error {
			require.True(t, s.CancelIfRunning(inFlight))
			return ctx.Err()
		},
	}
	inFlight = item
	q.AddTask(item)
	s.NotifyQueued(context.Background())

	_, results, _ := rec.snapshot()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0], context.Canceled)
}
