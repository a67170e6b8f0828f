package workqueue

import "github.com/google/uuid"

// Receipt identifies a single submission. Its only queryable property is
// ordering: drain loops use it to ask "was anything submitted after this?".
type Receipt struct {
	id  uuid.UUID
	seq uint64
}

// ID returns the unique submission identifier.
func (r Receipt) ID() uuid.UUID { return r.id }

// Before reports whether r was issued before other.
func (r Receipt) Before(other Receipt) bool { return r.seq < other.seq }

// Zero reports whether r is the zero receipt (no submission).
func (r Receipt) Zero() bool { return r.seq == 0 }
