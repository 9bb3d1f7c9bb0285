package mysql

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/sharedpool"
)

// ConnectionPool hands out connections shared per context: callers within the
// same context reuse one physical connection until all of them close it.
type ConnectionPool interface {
	TransactionalConnection(ctx context.Context) (TransactionalConnection, error)
}

func NewConnectionPool(client TransactionalClient) ConnectionPool {
	return &connectionPool{
		pool: sharedpool.NewPool[context.Context, TransactionalConnection](
			func(ctx context.Context) (TransactionalConnection, sharedpool.WrappedValueReleaseFunc, error) {
				conn, err := client.Connection(ctx)
				if err != nil {
					return nil, nil, errors.WithStack(err)
				}
				return conn, func() error {
					return errors.WithStack(conn.Close())
				}, nil
			},
		),
	}
}

type connectionPool struct {
	pool *sharedpool.Pool[context.Context, TransactionalConnection]
}

func (p *connectionPool) TransactionalConnection(ctx context.Context) (TransactionalConnection, error) {
	sharedConnection, err := p.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	return &wrappedTransactionalConnection{
		TransactionalConnection: sharedConnection.Value(),
		releaseFunc:             sharedConnection.Release,
	}, nil
}

type wrappedTransactionalConnection struct {
	TransactionalConnection
	releaseFunc func() error
}

func (conn *wrappedTransactionalConnection) Close() error {
	return conn.releaseFunc()
}
