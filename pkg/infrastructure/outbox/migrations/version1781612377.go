package outboxmigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/mysql"
)

func newVersion1781612377(client mysql.ClientContext) migrator.Migration {
	return &version1781612377{
		client: client,
	}
}

type version1781612377 struct {
	client mysql.ClientContext
}

func (v version1781612377) Version() int64 {
	return 1781612377
}

func (v version1781612377) Description() string {
	return "Create 'outbox_dead_letter' table"
}

func (v version1781612377) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE outbox_dead_letter
		(
		    record_id        BIGINT UNSIGNED NOT NULL,
		    event_id         VARBINARY(64)   NOT NULL,
		    event_type       VARBINARY(128)  NOT NULL,
		    payload          MEDIUMBLOB      NOT NULL,
		    correlation_id   VARBINARY(255)  NOT NULL,
		    routing_key      VARBINARY(128)  NOT NULL DEFAULT '',
		    created_at       DATETIME(6)     NOT NULL,
		    retry_count      INT             NOT NULL,
		    last_error       TEXT            NULL,
		    reason           TEXT            NOT NULL,
		    dead_lettered_at DATETIME(6)     NOT NULL,
		    PRIMARY KEY (record_id)
		)
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
