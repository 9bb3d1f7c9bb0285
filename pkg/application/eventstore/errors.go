package eventstore

import (
	"errors"
	"fmt"
)

// ErrConcurrencyConflict is the sentinel every version-check failure matches.
var ErrConcurrencyConflict = errors.New("stream version conflict")

// ConcurrencyError reports an optimistic concurrency check failure. The
// append caller decides whether to reload the stream and retry the business
// operation; the store never retries internally.
type ConcurrencyError struct {
	StreamID        string
	ExpectedVersion uint64
	ActualVersion   uint64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf(
		"stream %q version conflict: expected %d, actual %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion,
	)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}
