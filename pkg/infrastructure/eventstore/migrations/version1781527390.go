package eventstoremigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/mysql"
)

func newVersion1781527390(client mysql.ClientContext) migrator.Migration {
	return &version1781527390{
		client: client,
	}
}

type version1781527390 struct {
	client mysql.ClientContext
}

func (v version1781527390) Version() int64 {
	return 1781527390
}

func (v version1781527390) Description() string {
	return "Create 'event_stream' table"
}

func (v version1781527390) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE event_stream
		(
		    stream_id    VARBINARY(128)  NOT NULL,
		    version      BIGINT UNSIGNED NOT NULL,
		    created_at   DATETIME(6)     NOT NULL,
		    updated_at   DATETIME(6)     NOT NULL,
		    PRIMARY KEY (stream_id)
		)
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
