package migrations

import (
	"context"
	"io"

	liberr "gitea.xscloud.ru/xscloud/eventkit/pkg/common/errors"
	commonio "gitea.xscloud.ru/xscloud/eventkit/pkg/common/io"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/logging"
	eventstoremigrations "gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/eventstore/migrations"
	libmigrator "gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/mysql"
	outboxmigrations "gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/outbox/migrations"
)

// NewMigrators builds the migrators for every table set the library owns.
// The returned closer releases the connections the migrators hold and must
// be closed once migration is done, whether it succeeded or not.
func NewMigrators(
	ctx context.Context,
	pool mysql.ConnectionPool,
	logger logging.Logger,
) (migrators []libmigrator.Migrator, closer io.Closer, err error) {
	multiCloser := commonio.NewMultiCloser()
	defer func() {
		if err != nil {
			err = liberr.Join(err, multiCloser.Close())
		}
	}()

	builders := []func(context.Context, mysql.ConnectionPool, logging.Logger) (libmigrator.Migrator, commonio.CloserFunc, error){
		eventstoremigrations.NewEventStoreMigrator,
		outboxmigrations.NewOutboxMigrator,
	}
	for _, build := range builders {
		migrator, release, buildErr := build(ctx, pool, logger)
		if buildErr != nil {
			return nil, nil, buildErr
		}
		multiCloser.AddCloser(release)
		migrators = append(migrators, migrator)
	}
	return migrators, multiCloser, nil
}

// Migrate applies every migration set the library owns, releasing the held
// connections afterwards.
func Migrate(ctx context.Context, pool mysql.ConnectionPool, logger logging.Logger) (err error) {
	migrators, closer, err := NewMigrators(ctx, pool, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = liberr.Join(err, closer.Close())
	}()

	for _, migrator := range migrators {
		if err = migrator.Migrate(); err != nil {
			return err
		}
	}
	return nil
}
