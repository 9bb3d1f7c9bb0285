package outboxmigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/mysql"
)

func newVersion1781612205(client mysql.ClientContext) migrator.Migration {
	return &version1781612205{
		client: client,
	}
}

type version1781612205 struct {
	client mysql.ClientContext
}

func (v version1781612205) Version() int64 {
	return 1781612205
}

func (v version1781612205) Description() string {
	return "Create 'outbox_event' table"
}

func (v version1781612205) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE outbox_event
		(
		    id              BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		    event_id        VARBINARY(64)   NOT NULL,
		    event_type      VARBINARY(128)  NOT NULL,
		    payload         MEDIUMBLOB      NOT NULL,
		    correlation_id  VARBINARY(255)  NOT NULL,
		    routing_key     VARBINARY(128)  NOT NULL DEFAULT '',
		    created_at      DATETIME(6)     NOT NULL,
		    published       TINYINT(1)      NOT NULL DEFAULT 0,
		    published_at    DATETIME(6)     NULL,
		    retry_count     INT             NOT NULL DEFAULT 0,
		    last_error      TEXT            NULL,
		    last_retry_at   DATETIME(6)     NULL,
		    PRIMARY KEY (id),
		    KEY idx_outbox_event_unpublished (published, retry_count, created_at),
		    KEY idx_outbox_event_published_at (published, published_at)
		)
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
