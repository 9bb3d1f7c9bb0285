package outbox

import (
	"context"
	"time"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
)

// Statistics is the operator-facing view of the outbox backlog.
type Statistics struct {
	TotalEvents       int64
	PublishedEvents   int64
	UnpublishedEvents int64
	// FailedEvents counts unpublished records whose retry budget is exhausted.
	FailedEvents        int64
	LastProcessedAt     *time.Time
	OldestUnpublishedAt *time.Time
}

// Store durably stages integration events awaiting delivery. AddEvent and
// AddEvents persist synchronously and never wait on the broker; a backend
// built on a shared unit of work lets the insert join the caller's business
// transaction.
//
// Mark operations must be effectively atomic per record: no two concurrent
// attempts may both win.
type Store interface {
	AddEvent(ctx context.Context, e event.IntegrationEvent, routingKey string) error
	AddEvents(ctx context.Context, batch []Envelope) error

	// ListPending returns unpublished records that have never been attempted
	// (RetryCount == 0), oldest first.
	ListPending(ctx context.Context, limit int) ([]Record, error)

	// ListRetryable returns unpublished records with
	// 0 < RetryCount < maxRetryCount whose last attempt is not after
	// retriedBefore, oldest first.
	ListRetryable(ctx context.Context, limit int, retriedBefore time.Time, maxRetryCount int) ([]Record, error)

	// MarkPublished flips the record to published. Marking an already
	// published record is a no-op.
	MarkPublished(ctx context.Context, id uint64, at time.Time) error

	// MarkFailed increments the retry count and records the failure cause.
	MarkFailed(ctx context.Context, id uint64, cause string, at time.Time) error

	// CleanupOldEvents removes published records whose PublishedAt is older
	// than the cutoff. Unpublished records are never purged regardless of age.
	CleanupOldEvents(ctx context.Context, olderThan time.Time) (int64, error)

	Statistics(ctx context.Context, maxRetryCount int) (Statistics, error)
}
