package serialization

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
)

// JSONSerializer encodes events as JSON and decodes them through an explicit
// type-name registry populated at startup.
type JSONSerializer struct {
	mu       sync.RWMutex
	decoders map[string]func(data []byte) (event.DomainEvent, error)
}

func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{
		decoders: make(map[string]func(data []byte) (event.DomainEvent, error)),
	}
}

// RegisterType binds an event type name to its concrete Go type. E may
// implement the event interfaces on value or pointer receivers.
func RegisterType[E any](s *JSONSerializer, eventType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decoders[eventType] = func(data []byte) (event.DomainEvent, error) {
		var e E
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, errors.Wrapf(event.ErrSerialization, "decode %q: %v", eventType, err)
		}
		if decoded, ok := any(e).(event.DomainEvent); ok {
			return decoded, nil
		}
		if decoded, ok := any(&e).(event.DomainEvent); ok {
			return decoded, nil
		}
		return nil, errors.Wrapf(event.ErrSerialization, "type registered for %q is not a domain event", eventType)
	}
}

func (s *JSONSerializer) Serialize(e event.DomainEvent) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(event.ErrSerialization, "encode %q: %v", e.EventType(), err)
	}
	return data, nil
}

func (s *JSONSerializer) Deserialize(data []byte, eventType string) (event.DomainEvent, error) {
	s.mu.RLock()
	decode, ok := s.decoders[eventType]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(event.ErrUnknownEventType, "no decoder registered for %q", eventType)
	}
	return decode(data)
}
