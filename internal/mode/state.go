// Package mode implements the two-phase mode coordinator: an "unavailable"
// bulk-maintenance phase during which queued work items run, and an
// "available" phase gating reads elsewhere in the host. All phase mutation is
// serialized through the coordinator; everything else reads snapshots.
package mode

// State is an immutable snapshot of the mode machine. It is replaced
// wholesale on every transition, so a copy in hand never tears.
type State struct {
	unavailable bool
	version     uint64
	outstanding int32
}

// Unavailable reports whether the engine is in the maintenance phase.
// Always equal to Outstanding() > 0.
func (s State) Unavailable() bool { return s.unavailable }

// Version is a strictly increasing modification clock, bumped by exactly one
// per state replacement whether or not the phase changed.
func (s State) Version() uint64 { return s.version }

// Outstanding is the number of work items currently holding the mode
// unavailable. Never negative.
func (s State) Outstanding() int32 { return s.outstanding }

// next derives the state after applying delta to the outstanding counter.
func (s State) next(delta int32) State {
	count := s.outstanding + delta
	return State{
		unavailable: count > 0,
		version:     s.version + 1,
		outstanding: count,
	}
}
