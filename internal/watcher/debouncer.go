package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid file change events into batches. It waits for a
// quiet period before handing the accumulated paths to the callback, so an
// editor save storm or a branch switch becomes one maintenance submission.
type Debouncer struct {
	mu       sync.Mutex
	pending  map[string]struct{}
	timer    *time.Timer
	interval time.Duration
	callback func(paths []string)
	stopped  bool
}

// NewDebouncer creates a debouncer with the given interval in milliseconds.
func NewDebouncer(intervalMs int, callback func(paths []string)) *Debouncer {
	if intervalMs <= 0 {
		intervalMs = 500
	}
	return &Debouncer{
		pending:  make(map[string]struct{}),
		interval: time.Duration(intervalMs) * time.Millisecond,
		callback: callback,
	}
}

// Trigger registers a changed path. Each trigger resets the quiet-period
// timer, so the batch fires only once changes stop arriving.
func (d *Debouncer) Trigger(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending[path] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

// fire hands the accumulated batch to the callback.
func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	d.pending = make(map[string]struct{})
	d.timer = nil
	d.mu.Unlock()

	// Callback runs outside the lock so it may Trigger again.
	d.callback(paths)
}

// Flush fires any pending batch immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.fire()
}

// Stop cancels the pending batch and prevents new triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
}

// PendingCount returns the number of paths waiting in the current batch.
// Useful for testing.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
