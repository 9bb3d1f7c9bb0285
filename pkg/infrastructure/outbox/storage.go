package outbox

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/mysql"
)

// NewStore returns a MySQL-backed outbox.Store. AddEvent joins the caller's
// unit of work, so staging an integration event and the business write commit
// atomically. Mark operations guard on `published = FALSE`, making each
// transition atomic per record.
func NewStore(uow mysql.UnitOfWork, serializer event.Serializer) outbox.Store {
	return &store{
		uow:        uow,
		serializer: serializer,
	}
}

type store struct {
	uow        mysql.UnitOfWork
	serializer event.Serializer
}

type recordRow struct {
	ID            uint64         `db:"id"`
	EventID       string         `db:"event_id"`
	EventType     string         `db:"event_type"`
	Payload       []byte         `db:"payload"`
	CorrelationID string         `db:"correlation_id"`
	RoutingKey    string         `db:"routing_key"`
	CreatedAt     time.Time      `db:"created_at"`
	Published     bool           `db:"published"`
	PublishedAt   *time.Time     `db:"published_at"`
	RetryCount    int            `db:"retry_count"`
	LastError     sql.NullString `db:"last_error"`
	LastRetryAt   *time.Time     `db:"last_retry_at"`
}

const selectRecordColumns = `
	SELECT id, event_id, event_type, payload, correlation_id, routing_key,
	       created_at, published, published_at, retry_count, last_error, last_retry_at
	FROM outbox_event
`

func (s *store) AddEvent(ctx context.Context, e event.IntegrationEvent, routingKey string) error {
	return s.AddEvents(ctx, []outbox.Envelope{{Event: e, RoutingKey: routingKey}})
}

func (s *store) AddEvents(ctx context.Context, batch []outbox.Envelope) error {
	now := time.Now().UTC()
	records := make([]outbox.Record, 0, len(batch))
	for _, envelope := range batch {
		record, err := outbox.NewRecord(s.serializer, envelope.Event, envelope.RoutingKey, now)
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	return s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		for _, record := range records {
			_, err := client.ExecContext(ctx, `
				INSERT INTO outbox_event
				    (event_id, event_type, payload, correlation_id, routing_key,
				     created_at, published, retry_count)
				VALUES (?, ?, ?, ?, ?, ?, FALSE, 0)
			`, record.EventID, record.EventType, record.Payload, record.CorrelationID,
				record.RoutingKey, record.CreatedAt)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

func (s *store) ListPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	return s.selectRecords(ctx, selectRecordColumns+`
		WHERE published = FALSE AND retry_count = 0
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
}

func (s *store) ListRetryable(ctx context.Context, limit int, retriedBefore time.Time, maxRetryCount int) ([]outbox.Record, error) {
	return s.selectRecords(ctx, selectRecordColumns+`
		WHERE published = FALSE
		  AND retry_count > 0 AND retry_count < ?
		  AND last_retry_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`, maxRetryCount, retriedBefore, limit)
}

func (s *store) MarkPublished(ctx context.Context, id uint64, at time.Time) error {
	return s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		_, err := client.ExecContext(ctx, `
			UPDATE outbox_event SET published = TRUE, published_at = ?
			WHERE id = ? AND published = FALSE
		`, at, id)
		return errors.WithStack(err)
	})
}

func (s *store) MarkFailed(ctx context.Context, id uint64, cause string, at time.Time) error {
	return s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		_, err := client.ExecContext(ctx, `
			UPDATE outbox_event
			SET retry_count = retry_count + 1, last_error = ?, last_retry_at = ?
			WHERE id = ? AND published = FALSE
		`, cause, at, id)
		return errors.WithStack(err)
	})
}

func (s *store) CleanupOldEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	var removed int64
	err := s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		result, err := client.ExecContext(ctx, `
			DELETE FROM outbox_event WHERE published = TRUE AND published_at < ?
		`, olderThan)
		if err != nil {
			return errors.WithStack(err)
		}
		removed, err = result.RowsAffected()
		return errors.WithStack(err)
	})
	return removed, err
}

type statisticsRow struct {
	Total               int64      `db:"total"`
	Published           int64      `db:"published"`
	Failed              int64      `db:"failed"`
	LastPublishedAt     *time.Time `db:"last_published_at"`
	LastRetriedAt       *time.Time `db:"last_retried_at"`
	OldestUnpublishedAt *time.Time `db:"oldest_unpublished_at"`
}

func (s *store) Statistics(ctx context.Context, maxRetryCount int) (outbox.Statistics, error) {
	var stats outbox.Statistics
	err := s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		var row statisticsRow
		err := client.GetContext(ctx, &row, `
			SELECT
			    COUNT(*)                                             AS total,
			    COALESCE(SUM(published), 0)                          AS published,
			    COALESCE(SUM(NOT published AND retry_count >= ?), 0) AS failed,
			    MAX(published_at)                                    AS last_published_at,
			    MAX(last_retry_at)                                   AS last_retried_at,
			    MIN(CASE WHEN NOT published THEN created_at END)     AS oldest_unpublished_at
			FROM outbox_event
		`, maxRetryCount)
		if err != nil {
			return errors.WithStack(err)
		}
		stats = statisticsFromRow(row)
		return nil
	})
	return stats, err
}

// statisticsFromRow folds the per-kind timestamps into LastProcessedAt.
// GREATEST over a DATETIME and a string default coerces the result column to
// VARCHAR, which the driver cannot scan into time.Time, so the fold happens
// here.
func statisticsFromRow(row statisticsRow) outbox.Statistics {
	stats := outbox.Statistics{
		TotalEvents:         row.Total,
		PublishedEvents:     row.Published,
		UnpublishedEvents:   row.Total - row.Published,
		FailedEvents:        row.Failed,
		LastProcessedAt:     row.LastPublishedAt,
		OldestUnpublishedAt: row.OldestUnpublishedAt,
	}
	if row.LastRetriedAt != nil && (stats.LastProcessedAt == nil || row.LastRetriedAt.After(*stats.LastProcessedAt)) {
		stats.LastProcessedAt = row.LastRetriedAt
	}
	return stats
}

func (s *store) selectRecords(ctx context.Context, query string, args ...interface{}) ([]outbox.Record, error) {
	var result []outbox.Record
	err := s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		var rows []recordRow
		if err := client.SelectContext(ctx, &rows, query, args...); err != nil {
			if stderrors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return errors.WithStack(err)
		}
		for _, row := range rows {
			result = append(result, rowToRecord(row))
		}
		return nil
	})
	return result, err
}

func rowToRecord(row recordRow) outbox.Record {
	return outbox.Record{
		ID:            row.ID,
		EventID:       row.EventID,
		EventType:     row.EventType,
		Payload:       row.Payload,
		CorrelationID: row.CorrelationID,
		RoutingKey:    row.RoutingKey,
		CreatedAt:     row.CreatedAt,
		Published:     row.Published,
		PublishedAt:   row.PublishedAt,
		RetryCount:    row.RetryCount,
		LastError:     row.LastError.String,
		LastRetryAt:   row.LastRetryAt,
	}
}
