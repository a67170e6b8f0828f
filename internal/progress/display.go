// Package progress provides the CLI progress surface for maintenance work.
package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/modegate/internal/workqueue"
)

// Display shows maintenance progress to the user and carries the host-side
// stop request. It implements the engine's progress/cancellation contract, so
// work items polling it stop promptly when the user interrupts the run.
type Display struct {
	out       io.Writer
	quiet     bool
	startTime time.Time

	cancelled atomic.Bool

	mu       sync.Mutex
	lastLine time.Time
	reported int
}

// throttle bounds the output rate; progress-chatty items otherwise flood
// the terminal.
const throttle = 100 * time.Millisecond

// New creates a progress display writing to out. When quiet is true only the
// cancellation contract remains active.
func New(out io.Writer, quiet bool) *Display {
	return &Display{
		out:       out,
		quiet:     quiet,
		startTime: time.Now(),
	}
}

// ReportProgress prints a progress line, rate-limited.
func (d *Display) ReportProgress(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reported++
	if d.quiet {
		return
	}
	now := time.Now()
	if now.Sub(d.lastLine) < throttle {
		return
	}
	d.lastLine = now

	elapsed := now.Sub(d.startTime).Round(time.Second)
	fmt.Fprintf(d.out, "  [%s] %s\n", elapsed, text)
}

// CheckCancelled reports the pending stop request, if any. The returned
// error is the engine's silent-stop signal, never a failure.
func (d *Display) CheckCancelled() error {
	if d.cancelled.Load() {
		return fmt.Errorf("stop requested: %w", workqueue.ErrCancelled)
	}
	return nil
}

// RequestStop asks running work to stop at its next progress poll.
func (d *Display) RequestStop() {
	d.cancelled.Store(true)
}

// Reported returns how many progress reports arrived. Useful for testing.
func (d *Display) Reported() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reported
}
