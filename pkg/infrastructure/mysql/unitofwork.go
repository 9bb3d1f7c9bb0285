package mysql

import (
	"context"
	"fmt"

	liberrors "github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/sharedpool"
)

// UnitOfWork executes a callback inside a transaction. Transactions are
// shared per context: nested ExecuteWithClientContext calls under the same
// context join one transaction, which commits or rolls back only when the
// outermost call finishes. This is how an outbox insert becomes part of the
// same atomic unit of work as the business state change.
type UnitOfWork interface {
	ExecuteWithClientContext(ctx context.Context, callback func(client ClientContext) error) error
}

func NewUnitOfWork(pool ConnectionPool) UnitOfWork {
	return &unitOfWork{
		pool: sharedpool.NewPool[context.Context, Transaction](
			func(ctx context.Context) (Transaction, sharedpool.WrappedValueReleaseFunc, error) {
				conn, err := pool.TransactionalConnection(ctx)
				if err != nil {
					return nil, nil, err
				}

				transaction, err := conn.BeginTransaction(ctx, nil)
				if err != nil {
					return nil, nil, errors.Join(err, conn.Close())
				}

				wt := &wrappedTransaction{
					Transaction: transaction,
					state:       commit,
				}
				return wt, func() error {
					return errors.Join(wt.release(), conn.Close())
				}, nil
			},
		),
	}
}

type unitOfWork struct {
	pool *sharedpool.Pool[context.Context, Transaction]
}

func (uow unitOfWork) ExecuteWithClientContext(ctx context.Context, callback func(client ClientContext) error) (err error) {
	sharedTransaction, err := uow.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sharedTransaction.Release())
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = errors.Join(err, sharedTransaction.Value().Rollback())
			return
		}
		err = errors.Join(err, sharedTransaction.Value().Commit())
	}()
	err = callback(sharedTransaction.Value())
	return err
}

const (
	commit = iota
	rollback
)

// wrappedTransaction defers the real commit or rollback until the last
// holder releases the shared transaction.
type wrappedTransaction struct {
	Transaction
	state int
}

func (wt *wrappedTransaction) Commit() error {
	return nil
}

func (wt *wrappedTransaction) Rollback() error {
	wt.state = rollback
	return nil
}

func (wt *wrappedTransaction) release() error {
	var err error
	switch wt.state {
	case commit:
		err = wt.Transaction.Commit()
	case rollback:
		err = wt.Transaction.Rollback()
	}
	return liberrors.WithStack(err)
}
