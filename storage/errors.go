package storage

import (
	"errors"
	"fmt"
)

// ErrBufferFull is returned by the buffer manager when no page in the
// FIFO+LRU lists is unpinned and no free frame slot is available. It is
// never retried internally — it reaches callers wrapped with %w from
// everything that transitively fixes a page, so they test for it with
// errors.Is.
var ErrBufferFull = errors.New("buffer full")

// ErrIO wraps a failure in the underlying File I/O layer. Fatal at the
// core level: the operation that triggered it is aborted, never retried.
var ErrIO = errors.New("I/O error")

// ErrInvariantViolation marks a failed assertion on slotted-page, FSI, or
// B+tree invariants. It always indicates a bug in the engine, never a
// runtime condition a caller can recover from.
var ErrInvariantViolation = errors.New("invariant violation")

// Assertf panics with ErrInvariantViolation wrapped in a formatted message
// when cond is false. It is the Go analogue of the reference
// implementation's assert() calls sprinkled through the slotted page,
// FSI, and B+tree code: a failure here is always a bug.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...)))
	}
}
