package kafka

import (
	"context"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/outbox"
)

// Broker publishes integration events to Kafka, implementing the outbox
// Broker port. The routing key selects the topic; an empty routing key falls
// back to the default topic.
type Broker struct {
	writer       *kafka.Writer
	serializer   event.Serializer
	defaultTopic string
}

var _ outbox.Broker = (*Broker)(nil)

func NewBroker(brokers []string, defaultTopic string, serializer event.Serializer) *Broker {
	return &Broker{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Balancer: &kafka.Hash{},
		}),
		serializer:   serializer,
		defaultTopic: defaultTopic,
	}
}

func (b *Broker) Publish(ctx context.Context, e event.IntegrationEvent, routingKey string) error {
	body, err := b.serializer.Serialize(e)
	if err != nil {
		return err
	}

	msg, err := newMessage(e, routingKey, b.defaultTopic, body)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return pkgerrors.Wrapf(outbox.ErrTransport, "publish %q to kafka: %v", e.EventType(), err)
	}
	return nil
}

func (b *Broker) Close() error {
	return b.writer.Close()
}

func newMessage(e event.IntegrationEvent, routingKey, defaultTopic string, body []byte) (kafka.Message, error) {
	topic := routingKey
	if topic == "" {
		topic = defaultTopic
	}
	if topic == "" {
		return kafka.Message{}, pkgerrors.Wrapf(outbox.ErrTransport, "no topic for event %q", e.EventType())
	}

	return kafka.Message{
		Topic: topic,
		Key:   []byte(e.CorrelationID()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.EventID())},
			{Key: "event_type", Value: []byte(e.EventType())},
			{Key: "source", Value: []byte(e.Source())},
		},
	}, nil
}

// SplitBrokers parses a comma-separated broker list from configuration.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
