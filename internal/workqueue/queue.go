package workqueue

import (
	"sync"

	"github.com/google/uuid"
)

// Entry is a queued work item together with its submission bookkeeping.
// The queue owns an entry while it is pending; PollTask transfers ownership
// of the returned entry to the caller, which must Dispose it when done.
type Entry struct {
	item    WorkItem
	receipt Receipt

	disposeOnce sync.Once
}

// Item returns the work item carried by the entry.
func (e *Entry) Item() WorkItem { return e.item }

// Receipt returns the receipt issued for the submission that created the entry.
func (e *Entry) Receipt() Receipt { return e.receipt }

// Dispose disposes the underlying item. Safe to call more than once; the
// item's Dispose runs exactly once.
func (e *Entry) Dispose() {
	e.disposeOnce.Do(e.item.Dispose)
}

// Queue is a thread-safe FIFO of pending work items with kind-based merging.
// Any goroutine may call its methods; internal exclusion is its own.
type Queue struct {
	mu      sync.Mutex
	pending []*Entry
	seq     uint64
	latest  Receipt
	merge   bool
}

// New creates an empty queue. When mergeTasks is true, submissions whose
// items implement Merger may be collapsed into an already-pending entry of
// the same kind. Merging is a throughput optimization; a queue constructed
// with mergeTasks false behaves identically apart from running more items.
func New(mergeTasks bool) *Queue {
	return &Queue{merge: mergeTasks}
}

// AddTask appends item and returns the submission receipt. The merged result
// reports whether the submission was absorbed into an existing pending entry;
// in that case the absorbed pending item has been disposed and the caller
// must not take an additional outstanding hold for the submission.
func (q *Queue) AddTask(item WorkItem) (receipt Receipt, merged bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	receipt = Receipt{id: uuid.New(), seq: q.seq}
	q.latest = receipt

	if q.merge {
		if m, ok := item.(Merger); ok {
			for _, e := range q.pending {
				if e.item.Kind() != item.Kind() {
					continue
				}
				result := m.MergeWith(e.item)
				if result == nil {
					continue
				}
				if result != e.item {
					e.item.Dispose()
				}
				if result != item {
					item.Dispose()
				}
				// Keep the existing queue position. The entry's dispose
				// guard stays armed for the merge result.
				e.item = result
				e.receipt = receipt
				return receipt, true
			}
		}
	}

	q.pending = append(q.pending, &Entry{item: item, receipt: receipt})
	return receipt, false
}

// PollTask removes and returns the oldest pending entry, or nil when the
// queue is empty.
func (q *Queue) PollTask() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	e := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return e
}

// CancelTask removes a pending submission of item and disposes it. Returns
// false when the item is not pending (it may be running or already done).
func (q *Queue) CancelTask(item WorkItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.pending {
		if e.item != item {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		e.Dispose()
		return true
	}
	return false
}

// DisposePendingTasks drains the queue without running anything, disposing
// every pending item. Returns the number of entries disposed. Used at
// session teardown and by cancel-all.
func (q *Queue) DisposePendingTasks() int {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, e := range drained {
		e.Dispose()
	}
	return len(drained)
}

// IsEmpty reports whether no entries are pending.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// LatestReceipt returns the receipt of the most recent submission, or the
// zero receipt when nothing was ever submitted.
func (q *Queue) LatestReceipt() Receipt {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latest
}

// SubmittedSince reports whether any submission happened after r was issued.
func (q *Queue) SubmittedSince(r Receipt) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return r.seq < q.latest.seq
}
