package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/mysql"
)

// NewDeadLetterStore returns a MySQL-backed outbox.DeadLetterStore.
func NewDeadLetterStore(uow mysql.UnitOfWork) outbox.DeadLetterStore {
	return &deadLetterStore{uow: uow}
}

type deadLetterStore struct {
	uow mysql.UnitOfWork
}

type deadLetterRow struct {
	RecordID       uint64         `db:"record_id"`
	EventID        string         `db:"event_id"`
	EventType      string         `db:"event_type"`
	Payload        []byte         `db:"payload"`
	CorrelationID  string         `db:"correlation_id"`
	RoutingKey     string         `db:"routing_key"`
	CreatedAt      time.Time      `db:"created_at"`
	RetryCount     int            `db:"retry_count"`
	LastError      sql.NullString `db:"last_error"`
	Reason         string         `db:"reason"`
	DeadLetteredAt time.Time      `db:"dead_lettered_at"`
}

func (s *deadLetterStore) Add(ctx context.Context, letter outbox.DeadLetter) error {
	return s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		_, err := client.ExecContext(ctx, `
			INSERT INTO outbox_dead_letter
			    (record_id, event_id, event_type, payload, correlation_id, routing_key,
			     created_at, retry_count, last_error, reason, dead_lettered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, letter.Record.ID, letter.Record.EventID, letter.Record.EventType,
			letter.Record.Payload, letter.Record.CorrelationID, letter.Record.RoutingKey,
			letter.Record.CreatedAt, letter.Record.RetryCount, letter.Record.LastError,
			letter.Reason, letter.DeadLetteredAt)
		return errors.WithStack(err)
	})
}

func (s *deadLetterStore) List(ctx context.Context, limit int) ([]outbox.DeadLetter, error) {
	var result []outbox.DeadLetter
	err := s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		var rows []deadLetterRow
		err := client.SelectContext(ctx, &rows, `
			SELECT record_id, event_id, event_type, payload, correlation_id, routing_key,
			       created_at, retry_count, last_error, reason, dead_lettered_at
			FROM outbox_dead_letter
			ORDER BY dead_lettered_at ASC
			LIMIT ?
		`, limit)
		if err != nil {
			return errors.WithStack(err)
		}

		for _, row := range rows {
			lastRetryAt := row.DeadLetteredAt
			result = append(result, outbox.DeadLetter{
				Record: outbox.Record{
					ID:            row.RecordID,
					EventID:       row.EventID,
					EventType:     row.EventType,
					Payload:       row.Payload,
					CorrelationID: row.CorrelationID,
					RoutingKey:    row.RoutingKey,
					CreatedAt:     row.CreatedAt,
					RetryCount:    row.RetryCount,
					LastError:     row.LastError.String,
					LastRetryAt:   &lastRetryAt,
				},
				Reason:         row.Reason,
				DeadLetteredAt: row.DeadLetteredAt,
			})
		}
		return nil
	})
	return result, err
}
