package memory

import (
	"context"
	"sync"
	"time"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/eventstore"
)

// EventStore is an in-memory eventstore.Store for tests and development.
// Appends are serialized per stream; distinct streams proceed independently.
type EventStore struct {
	serializer event.Serializer

	mu      sync.RWMutex
	streams map[string]*stream
}

type stream struct {
	mu        sync.Mutex
	version   uint64
	events    []eventstore.StoredEvent
	createdAt time.Time
	updatedAt time.Time
}

func NewEventStore(serializer event.Serializer) *EventStore {
	return &EventStore{
		serializer: serializer,
		streams:    make(map[string]*stream),
	}
}

func (s *EventStore) AppendEvents(ctx context.Context, streamID string, events []event.DomainEvent, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	// Serialize before taking any lock so a bad payload cannot leave a
	// half-appended batch behind.
	payloads := make([][]byte, len(events))
	for i, e := range events {
		payload, err := s.serializer.Serialize(e)
		if err != nil {
			return err
		}
		payloads[i] = payload
	}

	st := s.getOrCreate(streamID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.version != expectedVersion {
		return &eventstore.ConcurrencyError{
			StreamID:        streamID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   st.version,
		}
	}

	now := time.Now().UTC()
	for i, e := range events {
		st.events = append(st.events, eventstore.StoredEvent{
			EventID:    e.EventID(),
			StreamID:   streamID,
			Version:    expectedVersion + uint64(i) + 1,
			EventType:  e.EventType(),
			Payload:    payloads[i],
			OccurredAt: e.OccurredAt(),
			StoredAt:   now,
		})
	}
	if st.version == 0 {
		st.createdAt = now
	}
	st.version = expectedVersion + uint64(len(events))
	st.updatedAt = now

	return nil
}

func (s *EventStore) GetEvents(ctx context.Context, streamID string, fromVersion uint64) ([]eventstore.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := s.get(streamID)
	if st == nil {
		return nil, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var result []eventstore.StoredEvent
	for _, stored := range st.events {
		if stored.Version > fromVersion {
			result = append(result, stored)
		}
	}
	return result, nil
}

func (s *EventStore) GetStream(ctx context.Context, streamID string, fromVersion uint64) (eventstore.Stream, error) {
	if err := ctx.Err(); err != nil {
		return eventstore.Stream{}, err
	}

	st := s.get(streamID)
	if st == nil {
		return eventstore.Stream{}, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.version == 0 {
		return eventstore.Stream{}, nil
	}

	var events []eventstore.StoredEvent
	for _, stored := range st.events {
		if stored.Version > fromVersion {
			events = append(events, stored)
		}
	}
	return eventstore.Stream{
		StreamID:  streamID,
		Version:   st.version,
		Events:    events,
		CreatedAt: st.createdAt,
		UpdatedAt: st.updatedAt,
	}, nil
}

func (s *EventStore) GetStreamVersion(ctx context.Context, streamID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	st := s.get(streamID)
	if st == nil {
		return 0, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.version, nil
}

func (s *EventStore) StreamExists(ctx context.Context, streamID string) (bool, error) {
	version, err := s.GetStreamVersion(ctx, streamID)
	return version > 0, err
}

func (s *EventStore) DeleteStream(ctx context.Context, streamID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.streams, streamID)
	s.mu.Unlock()
	return nil
}

func (s *EventStore) get(streamID string) *stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[streamID]
}

func (s *EventStore) getOrCreate(streamID string) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[streamID]
	if !ok {
		st = &stream{}
		s.streams[streamID] = st
	}
	return st
}
