package eventstoremigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/mysql"
)

func newVersion1781527441(client mysql.ClientContext) migrator.Migration {
	return &version1781527441{
		client: client,
	}
}

type version1781527441 struct {
	client mysql.ClientContext
}

func (v version1781527441) Version() int64 {
	return 1781527441
}

func (v version1781527441) Description() string {
	return "Create 'event_stream_event' table"
}

func (v version1781527441) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE event_stream_event
		(
		    stream_id    VARBINARY(128)  NOT NULL,
		    version      BIGINT UNSIGNED NOT NULL,
		    event_id     VARBINARY(64)   NOT NULL,
		    event_type   VARBINARY(128)  NOT NULL,
		    payload      MEDIUMBLOB      NOT NULL,
		    occurred_at  DATETIME(6)     NOT NULL,
		    stored_at    DATETIME(6)     NOT NULL,
		    PRIMARY KEY (stream_id, version)
		)
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
