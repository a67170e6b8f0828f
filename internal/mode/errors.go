package mode

import "errors"

// ErrContractViolation marks programming-contract misuse: wrong-context
// calls, queuing to a disposed coordinator, unbalanced counter operations.
// Under strict assertions the coordinator panics instead of returning it.
var ErrContractViolation = errors.New("mode: contract violation")

// ErrDisposed is returned when an operation reaches a coordinator that has
// been torn down.
var ErrDisposed = errors.New("mode: coordinator disposed")

// ErrAlwaysAvailable is returned when work is queued against the degenerate
// always-available coordinator, which never runs maintenance.
var ErrAlwaysAvailable = errors.New("mode: coordinator never becomes unavailable")
