package event

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact local to one aggregate, dispatched in-process.
type DomainEvent interface {
	EventID() string
	EventType() string
	OccurredAt() time.Time
	CorrelationID() string
}

// IntegrationEvent is a fact meant for other services, delivered via a broker.
type IntegrationEvent interface {
	DomainEvent
	Source() string
	Version() int
}

// Base carries the common domain event attributes and is meant to be embedded
// into concrete event types.
type Base struct {
	ID          string    `json:"event_id"`
	Type        string    `json:"event_type"`
	Occurred    time.Time `json:"occurred_at"`
	Correlation string    `json:"correlation_id"`
}

func NewBase(eventType string) Base {
	return Base{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Type:     eventType,
		Occurred: time.Now().UTC(),
	}
}

func (b Base) EventID() string {
	return b.ID
}

func (b Base) EventType() string {
	return b.Type
}

func (b Base) OccurredAt() time.Time {
	return b.Occurred
}

func (b Base) CorrelationID() string {
	return b.Correlation
}

// IntegrationBase extends Base with the attributes an event needs to cross
// service boundaries.
type IntegrationBase struct {
	Base
	EventSource   string `json:"source"`
	SchemaVersion int    `json:"version"`
}

func NewIntegrationBase(eventType, source string, schemaVersion int) IntegrationBase {
	return IntegrationBase{
		Base:          NewBase(eventType),
		EventSource:   source,
		SchemaVersion: schemaVersion,
	}
}

func (b IntegrationBase) Source() string {
	return b.EventSource
}

func (b IntegrationBase) Version() int {
	return b.SchemaVersion
}
