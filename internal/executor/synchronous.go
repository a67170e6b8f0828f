package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/randalmurphal/modegate/internal/workqueue"
)

// Synchronous runs queued items inline on the submitting goroutine. It is the
// strategy for hosts without a background worker (unit tests, headless batch
// runs) and drives exactly the same lifecycle hooks as Background.
type Synchronous struct {
	queue    *workqueue.Queue
	hooks    Hooks
	progress workqueue.Progress
	logger   *slog.Logger

	slot chan struct{}

	mu            sync.Mutex
	pauseDepth    int
	running       workqueue.WorkItem
	cancelRunning context.CancelFunc
}

// NewSynchronous creates a synchronous executor over queue.
func NewSynchronous(queue *workqueue.Queue, hooks Hooks, progress workqueue.Progress, logger *slog.Logger) *Synchronous {
	if progress == nil {
		progress = workqueue.NopProgress{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronous{
		queue:    queue,
		hooks:    hooks,
		progress: progress,
		logger:   logger,
		slot:     make(chan struct{}, 1),
	}
}

// NotifyQueued drains the queue on the calling goroutine. When a drain is
// already in progress higher up the stack (an item queued another item), the
// submission stays queued and the active drain picks it up, which preserves
// submission order without re-entrant execution.
func (s *Synchronous) NotifyQueued(ctx context.Context) {
	if s.paused() {
		return
	}
	s.TryRunHere(ctx)
}

// TryRunHere performs one inline drain pass if none is active. Returns
// whether at least one item ran; false also covers "a drain is already
// active", so no item is ever run twice.
func (s *Synchronous) TryRunHere(ctx context.Context) bool {
	if !s.tryAcquireSlot() {
		return false
	}
	ran := false
	for {
		for ctx.Err() == nil && !s.paused() {
			e := s.queue.PollTask()
			if e == nil {
				break
			}
			s.runOne(ctx, e)
			ran = true
		}

		s.releaseSlot()
		if ran && s.hooks.BatchDone != nil {
			s.hooks.BatchDone()
		}
		if ctx.Err() != nil || s.paused() || s.queue.IsEmpty() || !s.tryAcquireSlot() {
			return ran
		}
		// A submission raced the slot release; keep draining.
	}
}

// SuspendAndRun defers execution of new submissions until fn returns, then
// drains whatever accumulated. Pause requests stack.
func (s *Synchronous) SuspendAndRun(ctx context.Context, fn func()) {
	s.mu.Lock()
	s.pauseDepth++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.pauseDepth--
		resume := s.pauseDepth == 0
		s.mu.Unlock()
		if resume && !s.queue.IsEmpty() {
			s.TryRunHere(ctx)
		}
	}()
	fn()
}

// CancelIfRunning cancels item's context when it is the in-flight item.
func (s *Synchronous) CancelIfRunning(item workqueue.WorkItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != item || s.cancelRunning == nil {
		return false
	}
	s.cancelRunning()
	return true
}

// CancelRunning cancels whatever item is in flight, if any.
func (s *Synchronous) CancelRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRunning != nil {
		s.cancelRunning()
	}
}

// Busy reports whether an inline drain pass is in progress.
func (s *Synchronous) Busy() bool {
	return len(s.slot) > 0
}

func (s *Synchronous) tryAcquireSlot() bool {
	select {
	case s.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Synchronous) releaseSlot() {
	<-s.slot
}

func (s *Synchronous) paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseDepth > 0
}

func (s *Synchronous) runOne(ctx context.Context, e *workqueue.Entry) {
	itemCtx, cancel := context.WithCancel(s.hooks.wrap(ctx))
	defer cancel()

	s.mu.Lock()
	s.running = e.Item()
	s.cancelRunning = cancel
	s.mu.Unlock()

	s.logger.Debug("running maintenance item inline", "kind", e.Item().Kind())
	runItem(itemCtx, e, s.progress, s.hooks)

	s.mu.Lock()
	s.running = nil
	s.cancelRunning = nil
	s.mu.Unlock()
}
