package eventstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/eventstore"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/mysql"
)

// NewStore returns a MySQL-backed eventstore.Store. The version check and the
// event inserts run inside one transaction with the stream row locked, which
// gives per-stream serializability; distinct streams lock distinct rows and
// proceed independently. The DSN must enable parseTime.
func NewStore(uow mysql.UnitOfWork, serializer event.Serializer) eventstore.Store {
	return &store{
		uow:        uow,
		serializer: serializer,
	}
}

type store struct {
	uow        mysql.UnitOfWork
	serializer event.Serializer
}

type streamRow struct {
	StreamID  string    `db:"stream_id"`
	Version   uint64    `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type storedEventRow struct {
	EventID    string    `db:"event_id"`
	StreamID   string    `db:"stream_id"`
	Version    uint64    `db:"version"`
	EventType  string    `db:"event_type"`
	Payload    []byte    `db:"payload"`
	OccurredAt time.Time `db:"occurred_at"`
	StoredAt   time.Time `db:"stored_at"`
}

func (s *store) AppendEvents(ctx context.Context, streamID string, events []event.DomainEvent, expectedVersion uint64) error {
	if len(events) == 0 {
		return nil
	}

	payloads := make([][]byte, len(events))
	for i, e := range events {
		payload, err := s.serializer.Serialize(e)
		if err != nil {
			return err
		}
		payloads[i] = payload
	}

	return s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		var current uint64
		exists := true
		err := client.GetContext(ctx, &current, `
			SELECT version FROM event_stream WHERE stream_id = ? FOR UPDATE
		`, streamID)
		if err != nil {
			if !stderrors.Is(err, sql.ErrNoRows) {
				return errors.WithStack(err)
			}
			current = 0
			exists = false
		}

		if current != expectedVersion {
			return &eventstore.ConcurrencyError{
				StreamID:        streamID,
				ExpectedVersion: expectedVersion,
				ActualVersion:   current,
			}
		}

		now := time.Now().UTC()
		if exists {
			_, err = client.ExecContext(ctx, `
				UPDATE event_stream SET version = ?, updated_at = ? WHERE stream_id = ?
			`, expectedVersion+uint64(len(events)), now, streamID)
		} else {
			// Two first appends race here: there is no stream row yet for
			// the SELECT above to lock, so the loser hits the primary key.
			_, err = client.ExecContext(ctx, `
				INSERT INTO event_stream (stream_id, version, created_at, updated_at) VALUES (?, ?, ?, ?)
			`, streamID, uint64(len(events)), now, now)
		}
		if err != nil {
			if isDuplicateKey(err) {
				return concurrencyConflict(ctx, client, streamID, expectedVersion)
			}
			return errors.WithStack(err)
		}

		for i, e := range events {
			_, err = client.ExecContext(ctx, `
				INSERT INTO event_stream_event
				    (stream_id, version, event_id, event_type, payload, occurred_at, stored_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, streamID, expectedVersion+uint64(i)+1, e.EventID(), e.EventType(), payloads[i], e.OccurredAt().UTC(), now)
			if err != nil {
				if isDuplicateKey(err) {
					return concurrencyConflict(ctx, client, streamID, expectedVersion)
				}
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

func (s *store) GetEvents(ctx context.Context, streamID string, fromVersion uint64) ([]eventstore.StoredEvent, error) {
	var result []eventstore.StoredEvent
	err := s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		rows, err := s.selectEvents(ctx, client, streamID, fromVersion)
		if err != nil {
			return err
		}
		result = rowsToStoredEvents(rows)
		return nil
	})
	return result, err
}

func (s *store) GetStream(ctx context.Context, streamID string, fromVersion uint64) (eventstore.Stream, error) {
	var result eventstore.Stream
	err := s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		var row streamRow
		err := client.GetContext(ctx, &row, `
			SELECT stream_id, version, created_at, updated_at FROM event_stream WHERE stream_id = ?
		`, streamID)
		if err != nil {
			if stderrors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return errors.WithStack(err)
		}

		rows, err := s.selectEvents(ctx, client, streamID, fromVersion)
		if err != nil {
			return err
		}
		result = eventstore.Stream{
			StreamID:  row.StreamID,
			Version:   row.Version,
			Events:    rowsToStoredEvents(rows),
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		}
		return nil
	})
	return result, err
}

func (s *store) GetStreamVersion(ctx context.Context, streamID string) (uint64, error) {
	var version uint64
	err := s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		err := client.GetContext(ctx, &version, `
			SELECT version FROM event_stream WHERE stream_id = ?
		`, streamID)
		if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
			return errors.WithStack(err)
		}
		return nil
	})
	return version, err
}

func (s *store) StreamExists(ctx context.Context, streamID string) (bool, error) {
	version, err := s.GetStreamVersion(ctx, streamID)
	return version > 0, err
}

func (s *store) DeleteStream(ctx context.Context, streamID string) error {
	return s.uow.ExecuteWithClientContext(ctx, func(client mysql.ClientContext) error {
		_, err := client.ExecContext(ctx, `DELETE FROM event_stream_event WHERE stream_id = ?`, streamID)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = client.ExecContext(ctx, `DELETE FROM event_stream WHERE stream_id = ?`, streamID)
		return errors.WithStack(err)
	})
}

const duplicateKeyErrorNumber = 1062

func isDuplicateKey(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	return stderrors.As(err, &mysqlErr) && mysqlErr.Number == duplicateKeyErrorNumber
}

// concurrencyConflict converts a lost first-append race into the same error
// contract a version mismatch produces. The winner's version is re-read best
// effort; the transaction snapshot may not include it yet, leaving zero.
func concurrencyConflict(ctx context.Context, client mysql.ClientContext, streamID string, expectedVersion uint64) error {
	var actual uint64
	_ = client.GetContext(ctx, &actual, `SELECT version FROM event_stream WHERE stream_id = ?`, streamID)
	return &eventstore.ConcurrencyError{
		StreamID:        streamID,
		ExpectedVersion: expectedVersion,
		ActualVersion:   actual,
	}
}

func (s *store) selectEvents(ctx context.Context, client mysql.ClientContext, streamID string, fromVersion uint64) ([]storedEventRow, error) {
	var rows []storedEventRow
	err := client.SelectContext(ctx, &rows, `
		SELECT stream_id, version, event_id, event_type, payload, occurred_at, stored_at
		FROM event_stream_event
		WHERE stream_id = ? AND version > ?
		ORDER BY version ASC
	`, streamID, fromVersion)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return rows, nil
}

func rowsToStoredEvents(rows []storedEventRow) []eventstore.StoredEvent {
	if len(rows) == 0 {
		return nil
	}
	result := make([]eventstore.StoredEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, eventstore.StoredEvent{
			EventID:    row.EventID,
			StreamID:   row.StreamID,
			Version:    row.Version,
			EventType:  row.EventType,
			Payload:    row.Payload,
			OccurredAt: row.OccurredAt,
			StoredAt:   row.StoredAt,
		})
	}
	return result
}
