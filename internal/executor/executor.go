// Package executor drives the work queue for the mode engine. Exactly one
// strategy is active per coordinator: Background pulls items on a dedicated
// worker goroutine, Synchronous runs them inline at submission time for
// headless and test hosts. Both preserve identical lifecycle semantics.
package executor

import (
	"context"
	"fmt"

	"github.com/randalmurphal/modegate/internal/workqueue"
)

// Hooks connects an executor to its coordinator without an import cycle.
// All hooks are optional except ItemDone.
type Hooks struct {
	// WrapContext tags the context handed to WorkItem.Run so that contract
	// checks can recognize code running inside the engine.
	WrapContext func(ctx context.Context) context.Context

	// ItemDone is called exactly once per executed or aborted item, after
	// the item has been disposed. The coordinator releases the item's
	// outstanding hold here.
	ItemDone func(item workqueue.WorkItem, err error)

	// BatchDone is called after the last item of a batch, once the queue
	// has been observed empty and the worker slot released.
	BatchDone func()
}

func (h Hooks) wrap(ctx context.Context) context.Context {
	if h.WrapContext == nil {
		return ctx
	}
	return h.WrapContext(ctx)
}

// Executor is the strategy surface the coordinator drives.
type Executor interface {
	// NotifyQueued tells the executor a submission happened. Background
	// spawns or pokes the worker; Synchronous drains inline.
	NotifyQueued(ctx context.Context)

	// TryRunHere lets the calling goroutine become the worker for one drain
	// pass if no worker is active. Returns whether at least one item ran.
	TryRunHere(ctx context.Context) bool

	// SuspendAndRun pauses consumption of queued items for the duration of
	// fn. Pause requests stack across nested calls.
	SuspendAndRun(ctx context.Context, fn func())

	// CancelIfRunning requests cooperative cancellation of item when it is
	// the one currently executing. Returns whether a cancellation was issued.
	CancelIfRunning(item workqueue.WorkItem) bool

	// CancelRunning cancels whatever item is currently executing.
	CancelRunning()

	// Busy reports whether an item is currently executing.
	Busy() bool
}

// runItem executes one entry with panic isolation. The entry is disposed and
// ItemDone fired on every path.
func runItem(ctx context.Context, e *workqueue.Entry, progress workqueue.Progress, hooks Hooks) {
	item := e.Item()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("work item %q panicked: %v", item.Kind(), r)
			}
		}()
		if cerr := progress.CheckCancelled(); cerr != nil {
			return cerr
		}
		return item.Run(ctx, progress)
	}()

	e.Dispose()
	if hooks.ItemDone != nil {
		hooks.ItemDone(item, err)
	}
}
