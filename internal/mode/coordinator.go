package mode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/modegate/internal/events"
	"github.com/randalmurphal/modegate/internal/executor"
	"github.com/randalmurphal/modegate/internal/workqueue"
)

// cancelPollInterval bounds the sleep while waiting for in-flight work to
// stop during cancel-all and dispose.
const cancelPollInterval = 10 * time.Millisecond

// waitPollInterval bounds how long a waiter goes without re-checking
// host-level cancellation.
const waitPollInterval = 100 * time.Millisecond

// Coordinator owns the mode state machine and the maintenance work queue.
// It is the single writer of phase state: every transition goes through the
// serialized apply section, while readers get torn-free snapshots. One
// coordinator exists per session and is torn down with Dispose.
type Coordinator struct {
	queue     *workqueue.Queue
	exec      executor.Executor
	publisher events.Publisher
	notifier  Notifier
	telemetry Telemetry
	progress  workqueue.Progress
	logger    *slog.Logger
	listeners *listenerRegistry

	strict          bool
	alwaysAvailable bool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	state atomic.Pointer[State]

	// applyMu is the serialized context: all state replacement, the
	// availability signal and the run-when-available list live under it.
	applyMu       sync.Mutex
	availableCh   chan struct{}
	whenAvailable []func()
	disposed      bool

	// publishMu guards the publication gate. One goroutine at a time is the
	// active publisher; publishedVersion and publishedUnavailable ensure
	// each edge is delivered at most once and never out of order.
	publishMu            sync.Mutex
	publishing           bool
	publishedVersion     uint64
	publishedUnavailable bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithNotifier sets the host notification surface.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithTelemetry sets the host telemetry sink.
func WithTelemetry(t Telemetry) Option {
	return func(c *Coordinator) { c.telemetry = t }
}

// WithPublisher attaches an informational event publisher (journal, API
// stream). The coordinator publishes mode transitions and work-item
// lifecycle events to it.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithProgress sets the host progress/cancellation context handed to running
// work items.
func WithProgress(p workqueue.Progress) Option {
	return func(c *Coordinator) { c.progress = p }
}

// WithSynchronousExecution selects the inline execution strategy used by
// headless and test hosts. Queued items run to completion at submission time
// on the submitting goroutine.
func WithSynchronousExecution() Option {
	return func(c *Coordinator) { c.exec = syncExecutorMarker }
}

// syncExecutorMarker is replaced with a real executor during New; it only
// records the strategy choice before the queue exists.
var syncExecutorMarker executor.Executor = (*executor.Synchronous)(nil)

// New creates a coordinator in the available phase. settings selects
// optional behaviors (merging, strict assertions) and may be nil.
func New(settings Settings, opts ...Option) *Coordinator {
	if settings == nil {
		settings = MapSettings(nil)
	}

	c := &Coordinator{
		telemetry: NopTelemetry{},
		progress:  workqueue.NopProgress{},
		strict:    settings.GetBool(SettingStrictAssertions, false),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}
	c.listeners = newListenerRegistry(c.logger)
	c.queue = workqueue.New(settings.GetBool(SettingMergeTasks, true))
	c.baseCtx, c.baseCancel = context.WithCancel(context.Background())

	initial := State{}
	c.state.Store(&initial)
	ch := make(chan struct{})
	close(ch)
	c.availableCh = ch

	hooks := executor.Hooks{
		WrapContext: withEngineContext,
		ItemDone:    c.itemDone,
		BatchDone:   c.batchDone,
	}
	if c.exec == syncExecutorMarker {
		c.exec = executor.NewSynchronous(c.queue, hooks, c.progress, c.logger)
	} else {
		c.exec = executor.NewBackground(c.queue, hooks, c.progress, c.logger)
	}
	return c
}

// NeverUnavailable returns the degenerate coordinator for hosts whose
// maintenance finished before the session opened. It reports available
// forever and rejects queued work.
func NeverUnavailable(logger *slog.Logger) *Coordinator {
	c := New(nil, WithLogger(logger), WithSynchronousExecution())
	c.alwaysAvailable = true
	return c
}

// Queue submits item for execution during the unavailable phase. The
// outstanding hold is taken before the receipt is returned, so a 0 -> 1
// crossing publishes "entered unavailable" before any caller can observe the
// submission. Merged submissions transfer their hold to the absorbing entry
// instead of taking a new one, keeping increments paired with completions.
func (c *Coordinator) Queue(item workqueue.WorkItem) (workqueue.Receipt, error) {
	c.applyMu.Lock()
	if c.disposed {
		c.applyMu.Unlock()
		item.Dispose()
		return workqueue.Receipt{}, c.violation("queue on disposed coordinator", ErrDisposed)
	}
	if c.alwaysAvailable {
		c.applyMu.Unlock()
		item.Dispose()
		return workqueue.Receipt{}, c.violation("queue on always-available coordinator", ErrAlwaysAvailable)
	}

	receipt, merged := c.queue.AddTask(item)
	var cbs []func()
	if !merged {
		_, cbs, _ = c.applyLocked(+1)
	}
	c.applyMu.Unlock()

	c.runCallbacks(cbs)
	c.publish()

	if c.publisher != nil {
		evType := events.EventTaskQueued
		if merged {
			evType = events.EventTaskMerged
		}
		c.publisher.Publish(events.NewEvent(evType, item.Kind(), nil))
	}
	c.logger.Debug("maintenance task queued", "kind", item.Kind(), "merged", merged)

	c.exec.NotifyQueued(c.baseCtx)
	return receipt, nil
}

// Cancel marks item non-runnable and disposes it. Pending items are removed
// immediately; a running item gets a cooperative cancellation request.
// Idempotent and safe to call at any point of the item's life.
func (c *Coordinator) Cancel(item workqueue.WorkItem) {
	c.applyMu.Lock()
	removed := c.queue.CancelTask(item)
	var cbs []func()
	if removed {
		_, cbs, _ = c.applyLocked(-1)
	}
	c.applyMu.Unlock()

	if removed {
		c.runCallbacks(cbs)
		c.publish()
		if c.publisher != nil {
			c.publisher.Publish(events.NewEvent(events.EventTaskCancelled, item.Kind(), nil))
		}
		return
	}
	c.exec.CancelIfRunning(item)
}

// IsUnavailable reports whether the engine is in the maintenance phase.
// The snapshot is torn-free; callers that need the phase to stay stable
// across a larger read must bridge it with their own read discipline, e.g.
// WaitUntilAvailable or a transition listener.
func (c *Coordinator) IsUnavailable() bool {
	return c.state.Load().Unavailable()
}

// ModificationCount returns the state version, a cheap clock that changes on
// every counter replacement.
func (c *Coordinator) ModificationCount() uint64 {
	return c.state.Load().Version()
}

// Snapshot returns the current immutable mode state.
func (c *Coordinator) Snapshot() State {
	return *c.state.Load()
}

// OnTransition registers a listener for boundary crossings and returns its
// unsubscribe func.
func (c *Coordinator) OnTransition(l TransitionListener) func() {
	return c.listeners.add(l)
}

// RunInMode holds the mode unavailable for the duration of fn, which runs on
// the calling goroutine. The hold is released on every exit path, including
// panic and context cancellation. Nested calls compose: each takes its own
// hold.
func (c *Coordinator) RunInMode(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.alwaysAvailable {
		return fn(ctx)
	}

	c.applyMu.Lock()
	if c.disposed {
		c.applyMu.Unlock()
		return c.violation("run-in-mode on disposed coordinator", ErrDisposed)
	}
	_, cbs, _ := c.applyLocked(+1)
	c.applyMu.Unlock()
	c.runCallbacks(cbs)
	c.publish()

	defer func() {
		c.applyMu.Lock()
		_, cbs, err := c.applyLocked(-1)
		c.applyMu.Unlock()
		if err != nil {
			c.logger.Error("unbalanced run-in-mode release", "error", err)
		}
		c.runCallbacks(cbs)
		c.publish()
	}()

	return fn(withEngineContext(ctx))
}

// WaitUntilAvailable blocks the calling goroutine until the phase becomes
// available, ctx is cancelled, the host requests a stop, or timeout elapses
// (timeout 0 means no deadline). Returns whether the phase became available.
// Calling it from engine-owned execution is a contract violation: the phase
// cannot progress while its own context blocks.
func (c *Coordinator) WaitUntilAvailable(ctx context.Context, timeout time.Duration) bool {
	if InEngineContext(ctx) {
		_ = c.violation("wait-until-available from engine context", ErrContractViolation)
		return false
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	blocked := false
	for {
		if !c.IsUnavailable() {
			return true
		}
		if !blocked {
			blocked = true
			c.telemetry.RecordBlocked("wait_until_available")
		}

		ch := c.availableChan()
		// The transition may have landed between the snapshot and the
		// channel fetch; re-check before blocking.
		if !c.IsUnavailable() {
			return true
		}

		poll := time.NewTimer(waitPollInterval)
		select {
		case <-ch:
			poll.Stop()
		case <-ctx.Done():
			poll.Stop()
			return false
		case <-deadline:
			poll.Stop()
			return false
		case <-poll.C:
			if c.progress.CheckCancelled() != nil {
				return false
			}
		}
	}
}

// RunWhenAvailable schedules fn to run exactly once: immediately when the
// phase is already available, otherwise at the next 1 -> 0 crossing. fn is
// never silently dropped; coordinator disposal counts as available.
func (c *Coordinator) RunWhenAvailable(fn func()) {
	c.applyMu.Lock()
	if !c.disposed && c.state.Load().Unavailable() {
		c.whenAvailable = append(c.whenAvailable, fn)
		c.applyMu.Unlock()
		return
	}
	c.applyMu.Unlock()
	c.runCallbacks([]func(){fn})
}

// SuspendAndRun pauses consumption of queued items for the duration of fn.
// The currently running item still completes. Requests stack across nested
// calls.
func (c *Coordinator) SuspendAndRun(ctx context.Context, fn func()) {
	c.exec.SuspendAndRun(ctx, fn)
}

// CancelAllAndWait disposes every pending item, cancels the running one and
// blocks until no work is in flight. It must not be called from engine-owned
// execution (the wait could never finish). Returns ctx.Err() when the wait
// was abandoned.
func (c *Coordinator) CancelAllAndWait(ctx context.Context) error {
	if InEngineContext(ctx) {
		return c.violation("cancel-all from engine context", ErrContractViolation)
	}

	for {
		c.dropPending()
		c.exec.CancelRunning()

		if !c.exec.Busy() && c.queue.IsEmpty() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.progress.CheckCancelled(); err != nil {
			return err
		}
		time.Sleep(cancelPollInterval)
	}
}

// DrainSynchronously lets the calling goroutine pump one batch of the queue
// to completion if no worker is active. Returns whether it made progress;
// callers loop until the phase is available or progress stops.
func (c *Coordinator) DrainSynchronously(ctx context.Context) bool {
	if c.alwaysAvailable {
		return false
	}
	return c.exec.TryRunHere(withEngineContext(ctx))
}

// DrainAll pumps the queue until the phase is available, using receipts as
// back-pressure: when another worker holds the slot and nothing new was
// submitted, it yields instead of spinning. Returns whether the phase ended
// up available.
func (c *Coordinator) DrainAll(ctx context.Context) bool {
	for c.IsUnavailable() {
		if ctx.Err() != nil || c.progress.CheckCancelled() != nil {
			return false
		}
		before := c.queue.LatestReceipt()
		if c.DrainSynchronously(ctx) {
			continue
		}
		if c.exec.Busy() || c.queue.SubmittedSince(before) {
			time.Sleep(cancelPollInterval)
			continue
		}
		return !c.IsUnavailable()
	}
	return true
}

// Dispose tears the coordinator down: pending items are disposed, the
// running item is cancelled, and the teardown blocks until work stops. All
// subsequent submissions fail. Idempotent.
func (c *Coordinator) Dispose() {
	c.applyMu.Lock()
	if c.disposed {
		c.applyMu.Unlock()
		return
	}
	c.disposed = true
	c.applyMu.Unlock()

	_ = c.CancelAllAndWait(context.Background())
	c.baseCancel()
	c.logger.Debug("mode coordinator disposed")
}

// dropPending disposes all pending entries and releases their holds.
func (c *Coordinator) dropPending() {
	c.applyMu.Lock()
	n := c.queue.DisposePendingTasks()
	var cbs []func()
	if n > 0 {
		_, cbs, _ = c.applyLocked(int32(-n))
	}
	c.applyMu.Unlock()
	c.runCallbacks(cbs)
	if n > 0 {
		c.publish()
	}
}

// applyLocked replaces the state with outstanding+delta. Caller holds
// applyMu. On a boundary crossing it swaps the availability signal and, for
// 1 -> 0, hands back the run-when-available callbacks to fire after unlock.
func (c *Coordinator) applyLocked(delta int32) (State, []func(), error) {
	cur := *c.state.Load()
	if cur.Outstanding()+delta < 0 {
		// Logged here, escalated (strict panic) by the caller after the
		// apply lock is released.
		msg := fmt.Sprintf("outstanding counter underflow (%d%+d)", cur.Outstanding(), delta)
		c.logger.Error("contract violation", "detail", msg)
		return cur, nil, fmt.Errorf("%w: %s", ErrContractViolation, msg)
	}

	next := cur.next(delta)
	c.state.Store(&next)

	var cbs []func()
	if cur.Unavailable() != next.Unavailable() {
		if next.Unavailable() {
			c.availableCh = make(chan struct{})
		} else {
			close(c.availableCh)
			cbs = c.whenAvailable
			c.whenAvailable = nil
		}
	}
	return next, cbs, nil
}

// publish delivers boundary crossings to listeners, ordered by publishMu and
// gated by the last published version. The loop re-reads the state until the
// published version catches up, so a later transition is never skipped just
// because a newer one landed while an earlier publish was in flight.
// Intermediate non-boundary replacements are coalesced.
func (c *Coordinator) publish() {
	c.publishMu.Lock()
	if c.publishing {
		// Another goroutine is the active publisher and will re-read the
		// state until it is caught up. Re-entrant calls from listeners land
		// here too.
		c.publishMu.Unlock()
		return
	}
	c.publishing = true

	for {
		st := *c.state.Load()
		if st.Version() <= c.publishedVersion {
			c.publishing = false
			// A replacement between the version check and the flag reset
			// would have bounced off the publishing flag; re-check.
			st = *c.state.Load()
			if st.Version() <= c.publishedVersion {
				c.publishMu.Unlock()
				return
			}
			c.publishing = true
			continue
		}
		if st.Unavailable() == c.publishedUnavailable {
			c.publishedVersion = st.Version()
			continue
		}

		c.publishedVersion = st.Version()
		c.publishedUnavailable = st.Unavailable()
		c.publishMu.Unlock()

		if st.Unavailable() {
			c.logger.Debug("entered unavailable phase", "outstanding", st.Outstanding(), "version", st.Version())
		} else {
			c.logger.Debug("returned to available phase", "version", st.Version())
		}
		c.listeners.fire(st.Unavailable())

		if c.publisher != nil {
			evType := events.EventModeAvailable
			if st.Unavailable() {
				evType = events.EventModeUnavailable
			}
			c.publisher.Publish(events.NewEvent(evType, "", events.ModeData{
				Outstanding: st.Outstanding(),
				Version:     st.Version(),
			}))
		}

		c.publishMu.Lock()
	}
}

// itemDone releases the hold of a finished item and reports its outcome.
// Cancellation is a silent stop, not a failure; a failing item never
// corrupts the mode machine.
func (c *Coordinator) itemDone(item workqueue.WorkItem, err error) {
	switch {
	case err == nil:
		if c.publisher != nil {
			c.publisher.Publish(events.NewEvent(events.EventTaskComplete, item.Kind(), nil))
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, workqueue.ErrCancelled):
		c.logger.Debug("maintenance task cancelled", "kind", item.Kind())
		if c.publisher != nil {
			c.publisher.Publish(events.NewEvent(events.EventTaskCancelled, item.Kind(), nil))
		}
	default:
		c.logger.Error("maintenance task failed", "kind", item.Kind(), "error", err)
		c.notifier.Notify(fmt.Sprintf("maintenance task %q failed: %v", item.Kind(), err), SeverityWarning)
		if c.publisher != nil {
			c.publisher.Publish(events.NewEvent(events.EventTaskFailed, item.Kind(), events.TaskData{Error: err.Error()}))
		}
	}

	c.applyMu.Lock()
	_, cbs, verr := c.applyLocked(-1)
	c.applyMu.Unlock()
	if verr != nil && c.strict {
		panic(verr)
	}
	c.runCallbacks(cbs)
	c.publish()
}

func (c *Coordinator) batchDone() {
	c.logger.Debug("maintenance batch drained")
}

func (c *Coordinator) availableChan() chan struct{} {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	return c.availableCh
}

// runCallbacks fires run-when-available callbacks with panic isolation.
func (c *Coordinator) runCallbacks(cbs []func()) {
	for _, fn := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("run-when-available callback panicked", "panic", r)
				}
			}()
			fn()
		}()
	}
}

// violation reports a programming-contract breach. Strict hosts fail loudly;
// otherwise the violation is logged and the offending operation aborted.
func (c *Coordinator) violation(msg string, sentinel error) error {
	err := fmt.Errorf("%w: %s", sentinel, msg)
	if c.strict {
		panic(err)
	}
	c.logger.Error("contract violation", "detail", msg)
	return err
}
