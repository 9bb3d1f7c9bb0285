package event

import "errors"

var (
	// ErrSerialization reports a payload that cannot be encoded or decoded.
	ErrSerialization = errors.New("event serialization failed")
	// ErrUnknownEventType reports a type name with no registered decoder.
	ErrUnknownEventType = errors.New("unknown event type")
)

// Serializer converts events to wire bytes and back. Decoding goes through an
// explicit type-name registry populated at startup; there is no runtime type
// scanning.
type Serializer interface {
	Serialize(e DomainEvent) ([]byte, error)
	Deserialize(data []byte, eventType string) (DomainEvent, error)
}

// Deserialize decodes data via the serializer and asserts the concrete type.
func Deserialize[E DomainEvent](s Serializer, data []byte, eventType string) (E, error) {
	var zero E
	decoded, err := s.Deserialize(data, eventType)
	if err != nil {
		return zero, err
	}
	typed, ok := decoded.(E)
	if !ok {
		return zero, ErrSerialization
	}
	return typed, nil
}
