package outbox

import (
	"time"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
)

// Record is one staged delivery attempt for an integration event.
//
// Published transitions false to true exactly once and never reverts.
// RetryCount only increases. Records are independent of one another once
// created.
type Record struct {
	ID            uint64
	EventID       string
	EventType     string
	Payload       []byte
	CorrelationID string
	RoutingKey    string
	CreatedAt     time.Time
	Published     bool
	PublishedAt   *time.Time
	RetryCount    int
	LastError     string
	LastRetryAt   *time.Time
}

// Envelope pairs an integration event with its routing key for batch staging.
type Envelope struct {
	Event      event.IntegrationEvent
	RoutingKey string
}

// NewRecord serializes the event into a fresh unpublished record. A missing
// correlation id is derived from the event source and payload.
func NewRecord(serializer event.Serializer, e event.IntegrationEvent, routingKey string, now time.Time) (Record, error) {
	payload, err := serializer.Serialize(e)
	if err != nil {
		return Record{}, err
	}

	correlationID := e.CorrelationID()
	if correlationID == "" {
		correlationID, err = event.NewCorrelationID(e.Source(), payload)
		if err != nil {
			return Record{}, err
		}
	}

	return Record{
		EventID:       e.EventID(),
		EventType:     e.EventType(),
		Payload:       payload,
		CorrelationID: correlationID,
		RoutingKey:    routingKey,
		CreatedAt:     now,
	}, nil
}
