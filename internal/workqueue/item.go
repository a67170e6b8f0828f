// Package workqueue provides the pending-task queue for the mode engine.
package workqueue

import (
	"context"
	"errors"
)

// ErrCancelled is the abort signal a host's Progress returns (possibly
// wrapped) when it wants a running item to stop. It is treated as a silent
// stop, never as a failure.
var ErrCancelled = errors.New("workqueue: cancelled")

// WorkItem is a unit of maintenance work that holds the mode unavailable
// while it is pending or running.
type WorkItem interface {
	// Kind tags the item for merge compatibility. Items with equal kinds
	// are candidates for merging when both sides support it.
	Kind() string

	// Run executes the item. It must poll ctx (or progress.CheckCancelled)
	// at reasonable intervals so cancellation stays cooperative.
	Run(ctx context.Context, progress Progress) error

	// Dispose releases resources held by the item. It must be safe to call
	// whether or not Run ever started, and is called exactly once per item.
	Dispose()
}

// Merger is an optional WorkItem capability. When a submitted item and a
// pending item share a kind and the submitted item implements Merger, the
// queue replaces the pending item with the merge result.
type Merger interface {
	// MergeWith returns the item that should replace both receivers, or nil
	// to decline the merge.
	MergeWith(pending WorkItem) WorkItem
}

// FuncItem adapts plain functions to the WorkItem interface.
type FuncItem struct {
	// KindTag is returned from Kind. Empty tags never merge.
	KindTag string
	// RunFunc is invoked by Run. A nil RunFunc is a no-op item.
	RunFunc func(ctx context.Context, progress Progress) error
	// DisposeFunc, when non-nil, is invoked by Dispose.
	DisposeFunc func()
}

func (f *FuncItem) Kind() string { return f.KindTag }

func (f *FuncItem) Run(ctx context.Context, progress Progress) error {
	if f.RunFunc == nil {
		return nil
	}
	return f.RunFunc(ctx, progress)
}

func (f *FuncItem) Dispose() {
	if f.DisposeFunc != nil {
		f.DisposeFunc()
	}
}

// Progress is the host progress/cancellation context handed to running items.
type Progress interface {
	// ReportProgress publishes human-readable progress text.
	ReportProgress(text string)
	// CheckCancelled returns a non-nil error when the host requested a stop.
	// The error is treated as a silent abort, not a failure.
	CheckCancelled() error
}

// NopProgress is a Progress that reports nowhere and never cancels.
type NopProgress struct{}

func (NopProgress) ReportProgress(string) {}

func (NopProgress) CheckCancelled() error { return nil }
