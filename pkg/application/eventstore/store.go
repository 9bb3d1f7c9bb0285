package eventstore

import (
	"context"
	"time"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
)

// StoredEvent is a domain event persisted in a stream.
type StoredEvent struct {
	EventID    string
	StreamID   string
	Version    uint64
	EventType  string
	Payload    []byte
	OccurredAt time.Time
	StoredAt   time.Time
}

// Stream is the ordered history of one aggregate. Versions start at 1 and are
// contiguous; Version equals the highest stored version.
type Stream struct {
	StreamID  string
	Version   uint64
	Events    []StoredEvent
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is an append-only per-stream event log with optimistic concurrency.
//
// AppendEvents is linearizable per stream; distinct streams may append
// concurrently. All reads on an unknown stream succeed with zero values.
type Store interface {
	// AppendEvents stores all events as one atomic unit, assigning versions
	// expectedVersion+1..+n. It fails with a ConcurrencyError when
	// expectedVersion does not match the current stream version, leaving the
	// stream untouched. An empty batch is a no-op success.
	AppendEvents(ctx context.Context, streamID string, events []event.DomainEvent, expectedVersion uint64) error

	// GetEvents returns stored events with Version > fromVersion in ascending
	// version order. An unknown stream yields an empty result, not an error.
	GetEvents(ctx context.Context, streamID string, fromVersion uint64) ([]StoredEvent, error)

	// GetStream returns the stream with events after fromVersion. An unknown
	// stream yields a zero-value stream, not an error.
	GetStream(ctx context.Context, streamID string, fromVersion uint64) (Stream, error)

	GetStreamVersion(ctx context.Context, streamID string) (uint64, error)
	StreamExists(ctx context.Context, streamID string) (bool, error)

	// DeleteStream is idempotent: deleting an absent stream succeeds.
	DeleteStream(ctx context.Context, streamID string) error
}
