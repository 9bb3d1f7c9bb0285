package amqp

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/outbox"
)

const contentTypeJSON = "application/json"

// EventBus publishes integration events through an AMQP producer. It
// implements the outbox Broker port; delayed publishes go through a real
// in-process scheduler rather than degrading to an immediate publish.
type EventBus struct {
	serializer event.Serializer
	producer   Producer
	scheduler  *scheduler
	logger     logging.Logger
}

var _ outbox.Broker = (*EventBus)(nil)

func NewEventBus(
	serializer event.Serializer,
	producer Producer,
	publishTimeout time.Duration,
	logger logging.Logger,
) *EventBus {
	return &EventBus{
		serializer: serializer,
		producer:   producer,
		scheduler:  newScheduler(producer.Publish, publishTimeout, logger),
		logger:     logger,
	}
}

func (b *EventBus) Publish(ctx context.Context, e event.IntegrationEvent, routingKey string) error {
	delivery, err := b.newDelivery(e, routingKey)
	if err != nil {
		return err
	}
	if err := b.producer.Publish(ctx, delivery); err != nil {
		return pkgerrors.Wrapf(outbox.ErrTransport, "publish %q: %v", e.EventType(), err)
	}
	return nil
}

// PublishDelayed hands the event to the scheduler, which delivers it no
// earlier than the given delay. Scheduled deliveries not yet due are dropped
// on Close; callers needing delivery across restarts should stage the event
// through the outbox instead.
func (b *EventBus) PublishDelayed(ctx context.Context, e event.IntegrationEvent, routingKey string, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delivery, err := b.newDelivery(e, routingKey)
	if err != nil {
		return err
	}
	return b.scheduler.schedule(delivery, time.Now().Add(delay))
}

func (b *EventBus) Close() error {
	b.scheduler.stop()
	return nil
}

func (b *EventBus) newDelivery(e event.IntegrationEvent, routingKey string) (Delivery, error) {
	body, err := b.serializer.Serialize(e)
	if err != nil {
		return Delivery{}, err
	}

	correlationID := e.CorrelationID()
	if correlationID == "" {
		correlationID, err = event.NewCorrelationID(e.Source(), body)
		if err != nil {
			return Delivery{}, err
		}
	}

	return Delivery{
		RoutingKey:    routingKey,
		CorrelationID: correlationID,
		ContentType:   contentTypeJSON,
		Type:          e.EventType(),
		Body:          body,
	}, nil
}
