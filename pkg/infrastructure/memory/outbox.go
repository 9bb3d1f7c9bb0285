package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/outbox"
)

// OutboxStore is an in-memory outbox.Store for tests and development. Records
// are kept in creation order; each mark operation is atomic per record.
type OutboxStore struct {
	serializer event.Serializer

	mu      sync.Mutex
	nextID  uint64
	records []*outbox.Record
}

func NewOutboxStore(serializer event.Serializer) *OutboxStore {
	return &OutboxStore{serializer: serializer}
}

func (s *OutboxStore) AddEvent(ctx context.Context, e event.IntegrationEvent, routingKey string) error {
	return s.AddEvents(ctx, []outbox.Envelope{{Event: e, RoutingKey: routingKey}})
}

func (s *OutboxStore) AddEvents(ctx context.Context, batch []outbox.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	records := make([]*outbox.Record, 0, len(batch))
	for _, envelope := range batch {
		record, err := outbox.NewRecord(s.serializer, envelope.Event, envelope.RoutingKey, now)
		if err != nil {
			return err
		}
		records = append(records, &record)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.nextID++
		record.ID = s.nextID
		s.records = append(s.records, record)
	}
	return nil
}

func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []outbox.Record
	for _, record := range s.records {
		if len(result) == limit {
			break
		}
		if !record.Published && record.RetryCount == 0 {
			result = append(result, *record)
		}
	}
	return result, nil
}

func (s *OutboxStore) ListRetryable(ctx context.Context, limit int, retriedBefore time.Time, maxRetryCount int) ([]outbox.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []outbox.Record
	for _, record := range s.records {
		if len(result) == limit {
			break
		}
		if record.Published || record.RetryCount == 0 || record.RetryCount >= maxRetryCount {
			continue
		}
		if record.LastRetryAt != nil && !record.LastRetryAt.After(retriedBefore) {
			result = append(result, *record)
		}
	}
	return result, nil
}

func (s *OutboxStore) MarkPublished(ctx context.Context, id uint64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.find(id)
	if err != nil {
		return err
	}
	if record.Published {
		return nil
	}
	record.Published = true
	record.PublishedAt = &at
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id uint64, cause string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.find(id)
	if err != nil {
		return err
	}
	if record.Published {
		return errors.Errorf("outbox record %d is already published", id)
	}
	record.RetryCount++
	record.LastError = cause
	record.LastRetryAt = &at
	return nil
}

func (s *OutboxStore) CleanupOldEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		kept    []*outbox.Record
		removed int64
	)
	for _, record := range s.records {
		if record.Published && record.PublishedAt != nil && record.PublishedAt.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, record)
	}
	s.records = kept
	return removed, nil
}

func (s *OutboxStore) Statistics(ctx context.Context, maxRetryCount int) (outbox.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return outbox.Statistics{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stats outbox.Statistics
	for _, record := range s.records {
		stats.TotalEvents++
		if record.Published {
			stats.PublishedEvents++
		} else {
			stats.UnpublishedEvents++
			if record.RetryCount >= maxRetryCount {
				stats.FailedEvents++
			}
			if stats.OldestUnpublishedAt == nil || record.CreatedAt.Before(*stats.OldestUnpublishedAt) {
				createdAt := record.CreatedAt
				stats.OldestUnpublishedAt = &createdAt
			}
		}
		for _, processedAt := range []*time.Time{record.PublishedAt, record.LastRetryAt} {
			if processedAt == nil {
				continue
			}
			if stats.LastProcessedAt == nil || processedAt.After(*stats.LastProcessedAt) {
				at := *processedAt
				stats.LastProcessedAt = &at
			}
		}
	}
	return stats, nil
}

func (s *OutboxStore) find(id uint64) (*outbox.Record, error) {
	for _, record := range s.records {
		if record.ID == id {
			return record, nil
		}
	}
	return nil, errors.Errorf("outbox record %d not found", id)
}
