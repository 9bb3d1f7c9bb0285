package mysql

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// ClientContext is the query surface shared by the pooled client, a single
// connection, and an open transaction; storage code is written against it and
// stays unaware of which one it runs on.
type ClientContext interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Transaction is a ClientContext bound to one open transaction.
type Transaction interface {
	ClientContext
	Commit() error
	Rollback() error
}

// TransactionalConnection pins its queries to one physical connection, which
// session-scoped features (GET_LOCK, transactions) require.
type TransactionalConnection interface {
	ClientContext
	BeginTransaction(ctx context.Context, opts *sql.TxOptions) (Transaction, error)
	Close() error
}

// TransactionalClient is the root database handle backed by the driver pool.
type TransactionalClient interface {
	ClientContext
	BeginTransaction() (Transaction, error)
	Connection(ctx context.Context) (TransactionalConnection, error)
}

type transactionalClient struct {
	*sqlx.DB
}

func (client *transactionalClient) BeginTransaction() (Transaction, error) {
	return client.Beginx()
}

func (client *transactionalClient) Connection(ctx context.Context) (TransactionalConnection, error) {
	connx, err := client.Connx(ctx)
	if err != nil {
		return nil, err
	}
	return &transactionalConnection{Conn: connx}, nil
}

type transactionalConnection struct {
	*sqlx.Conn
}

func (conn *transactionalConnection) BeginTransaction(ctx context.Context, opts *sql.TxOptions) (Transaction, error) {
	return conn.BeginTxx(ctx, opts)
}
