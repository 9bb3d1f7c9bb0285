package eventstore

import (
	"context"
	"database/sql"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/eventstore"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/mysql"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/serialization"
)

type orderPlaced struct {
	event.Base
	OrderID string `json:"order_id"`
}

type fakeUnitOfWork struct {
	client mysql.ClientContext
}

func (u fakeUnitOfWork) ExecuteWithClientContext(_ context.Context, callback func(client mysql.ClientContext) error) error {
	return callback(u.client)
}

// scriptedClient replays canned errors per call, newest first.
type scriptedClient struct {
	getErrs  []error
	execErrs []error
}

func (c *scriptedClient) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (c *scriptedClient) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

func (c *scriptedClient) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, pop(&c.execErrs)
}

func (c *scriptedClient) SelectContext(context.Context, interface{}, string, ...interface{}) error {
	return nil
}

func (c *scriptedClient) GetContext(context.Context, interface{}, string, ...interface{}) error {
	return pop(&c.getErrs)
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func newTestStore(client mysql.ClientContext) eventstore.Store {
	return NewStore(fakeUnitOfWork{client: client}, serialization.NewJSONSerializer())
}

func placedEvents() []event.DomainEvent {
	return []event.DomainEvent{orderPlaced{Base: event.NewBase("order.placed"), OrderID: "42"}}
}

func TestAppendEventsMapsDuplicateStreamToConcurrencyError(t *testing.T) {
	// The version select sees no row, the stream insert loses the race.
	client := &scriptedClient{
		getErrs:  []error{sql.ErrNoRows, sql.ErrNoRows},
		execErrs: []error{&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'order-42' for key 'PRIMARY'"}},
	}

	err := newTestStore(client).AppendEvents(context.Background(), "order-42", placedEvents(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

	var conflict *eventstore.ConcurrencyError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "order-42", conflict.StreamID)
	assert.Equal(t, uint64(0), conflict.ExpectedVersion)
}

func TestAppendEventsMapsDuplicateEventVersionToConcurrencyError(t *testing.T) {
	// Stream insert succeeds, the event row hits the (stream_id, version) key.
	client := &scriptedClient{
		getErrs:  []error{sql.ErrNoRows, sql.ErrNoRows},
		execErrs: []error{nil, &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'order-42-1' for key 'PRIMARY'"}},
	}

	err := newTestStore(client).AppendEvents(context.Background(), "order-42", placedEvents(), 0)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}

func TestAppendEventsPassesOtherErrorsThrough(t *testing.T) {
	insertErr := pkgerrors.New("server has gone away")
	client := &scriptedClient{
		getErrs:  []error{sql.ErrNoRows},
		execErrs: []error{insertErr},
	}

	err := newTestStore(client).AppendEvents(context.Background(), "order-42", placedEvents(), 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.ErrorIs(t, err, insertErr)
}

func TestIsDuplicateKey(t *testing.T) {
	dup := &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}
	assert.True(t, isDuplicateKey(dup))
	assert.True(t, isDuplicateKey(pkgerrors.WithStack(dup)))
	assert.False(t, isDuplicateKey(&mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found"}))
	assert.False(t, isDuplicateKey(pkgerrors.New("not a mysql error")))
	assert.False(t, isDuplicateKey(nil))
}
