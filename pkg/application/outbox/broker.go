package outbox

import (
	"context"
	"errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
)

// ErrTransport reports a broker that is unreachable or rejected the message.
// Transport failures are retryable up to the processor's retry budget.
var ErrTransport = errors.New("broker transport failed")

// Broker is the opaque, slow, unreliable message transport. Publish hands the
// event over at most once per call; delivery guarantees beyond that boundary
// belong to the broker.
type Broker interface {
	Publish(ctx context.Context, e event.IntegrationEvent, routingKey string) error
}
