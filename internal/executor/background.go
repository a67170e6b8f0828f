package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/randalmurphal/modegate/internal/workqueue"
)

// Background drains the queue on a dedicated worker goroutine, one item at a
// time. A single worker slot guarantees at most one in-flight item; the slot
// is acquired non-blocking so a caller can safely try to become the worker
// itself (the modal-drain escape valve) without deadlocking.
type Background struct {
	queue    *workqueue.Queue
	hooks    Hooks
	progress workqueue.Progress
	logger   *slog.Logger

	slot chan struct{}

	mu            sync.Mutex
	pauseDepth    int
	resumeCh      chan struct{}
	running       workqueue.WorkItem
	cancelRunning context.CancelFunc
}

// NewBackground creates a background executor over queue.
func NewBackground(queue *workqueue.Queue, hooks Hooks, progress workqueue.Progress, logger *slog.Logger) *Background {
	if progress == nil {
		progress = workqueue.NopProgress{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Background{
		queue:    queue,
		hooks:    hooks,
		progress: progress,
		logger:   logger,
		slot:     make(chan struct{}, 1),
	}
}

// NotifyQueued starts a background worker if none is active. When a worker is
// already draining, the new submission is picked up by it; the post-release
// re-check in drain closes the race where the worker was just finishing.
func (b *Background) NotifyQueued(ctx context.Context) {
	if !b.tryAcquireSlot() {
		return
	}
	go b.drain(ctx)
}

// TryRunHere makes the calling goroutine the worker for one drain pass if no
// worker is currently active. Returns whether at least one item ran; false
// also covers "a worker is already active", so no item is ever run twice.
func (b *Background) TryRunHere(ctx context.Context) bool {
	if !b.tryAcquireSlot() {
		return false
	}
	return b.drain(ctx)
}

// SuspendAndRun pauses consumption of new items, runs fn, then resumes. The
// currently running item still completes. Pause requests stack, so nested
// suspensions resume only after the outermost fn returns.
func (b *Background) SuspendAndRun(ctx context.Context, fn func()) {
	b.pause()
	defer b.resume(ctx)
	fn()
}

// CancelIfRunning cancels item's context when it is the in-flight item.
func (b *Background) CancelIfRunning(item workqueue.WorkItem) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running != item || b.cancelRunning == nil {
		return false
	}
	b.cancelRunning()
	return true
}

// CancelRunning cancels whatever item is in flight, if any.
func (b *Background) CancelRunning() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelRunning != nil {
		b.cancelRunning()
	}
}

// Busy reports whether a worker pass is in progress.
func (b *Background) Busy() bool {
	return len(b.slot) > 0
}

func (b *Background) tryAcquireSlot() bool {
	select {
	case b.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (b *Background) releaseSlot() {
	<-b.slot
}

// drain pulls items until the queue is empty or ctx is cancelled. The caller
// must hold the worker slot; drain releases it. Returns whether any item ran.
func (b *Background) drain(ctx context.Context) bool {
	ran := false
	for {
		stopped := false
		for {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			if !b.waitWhilePaused(ctx) {
				stopped = true
				break
			}
			e := b.queue.PollTask()
			if e == nil {
				break
			}
			b.runOne(ctx, e)
			ran = true
		}

		b.releaseSlot()
		if ran && b.hooks.BatchDone != nil {
			b.hooks.BatchDone()
		}
		if stopped || b.queue.IsEmpty() || !b.tryAcquireSlot() {
			return ran
		}
		// A submission raced the slot release; keep draining.
	}
}

func (b *Background) runOne(ctx context.Context, e *workqueue.Entry) {
	itemCtx, cancel := context.WithCancel(b.hooks.wrap(ctx))
	defer cancel()

	b.mu.Lock()
	b.running = e.Item()
	b.cancelRunning = cancel
	b.mu.Unlock()

	b.logger.Debug("running maintenance item", "kind", e.Item().Kind())
	runItem(itemCtx, e, b.progress, b.hooks)

	b.mu.Lock()
	b.running = nil
	b.cancelRunning = nil
	b.mu.Unlock()
}

func (b *Background) pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pauseDepth++
	if b.pauseDepth == 1 {
		b.resumeCh = make(chan struct{})
	}
}

func (b *Background) resume(ctx context.Context) {
	b.mu.Lock()
	b.pauseDepth--
	if b.pauseDepth == 0 && b.resumeCh != nil {
		close(b.resumeCh)
		b.resumeCh = nil
	}
	b.mu.Unlock()

	// Items queued while suspended may have found the worker parked; make
	// sure someone drains them.
	if !b.queue.IsEmpty() {
		b.NotifyQueued(ctx)
	}
}

// waitWhilePaused blocks until the executor is unpaused. Returns false when
// ctx was cancelled while waiting.
func (b *Background) waitWhilePaused(ctx context.Context) bool {
	for {
		b.mu.Lock()
		ch := b.resumeCh
		b.mu.Unlock()
		if ch == nil {
			return true
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}
