package outbox

import (
	"context"
	"time"
)

// DeadLetter is a copy of a record that exhausted its retry budget, held for
// manual inspection. The original record stays in the outbox, unpublished and
// excluded from further automatic attempts.
type DeadLetter struct {
	Record         Record
	Reason         string
	DeadLetteredAt time.Time
}

type DeadLetterStore interface {
	Add(ctx context.Context, letter DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
}
