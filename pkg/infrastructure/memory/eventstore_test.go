package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/eventstore"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/serialization"
)

type orderPlaced struct {
	event.Base
	OrderID string `json:"order_id"`
}

type orderShipped struct {
	event.Base
	OrderID string `json:"order_id"`
}

func newEventSerializer() event.Serializer {
	s := serialization.NewJSONSerializer()
	serialization.RegisterType[orderPlaced](s, "order.placed")
	serialization.RegisterType[orderShipped](s, "order.shipped")
	return s
}

func placedEvent(orderID string) event.DomainEvent {
	return orderPlaced{Base: event.NewBase("order.placed"), OrderID: orderID}
}

func shippedEvent(orderID string) event.DomainEvent {
	return orderShipped{Base: event.NewBase("order.shipped"), OrderID: orderID}
}

func TestEventStoreAppendAndRead(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newEventSerializer())

	events := []event.DomainEvent{placedEvent("42"), shippedEvent("42"), shippedEvent("42")}
	require.NoError(t, store.AppendEvents(ctx, "order-42", events, 0))

	version, err := store.GetStreamVersion(ctx, "order-42")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), version)

	exists, err := store.StreamExists(ctx, "order-42")
	require.NoError(t, err)
	assert.True(t, exists)

	stored, err := store.GetEvents(ctx, "order-42", 0)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, se := range stored {
		assert.Equal(t, uint64(i+1), se.Version)
		assert.Equal(t, "order-42", se.StreamID)
		assert.Equal(t, events[i].EventID(), se.EventID)
		assert.Equal(t, events[i].EventType(), se.EventType)
	}

	tail, err := store.GetEvents(ctx, "order-42", 1)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(2), tail[0].Version)
	assert.Equal(t, uint64(3), tail[1].Version)

	stream, err := store.GetStream(ctx, "order-42", 0)
	require.NoError(t, err)
	assert.Equal(t, "order-42", stream.StreamID)
	assert.Equal(t, uint64(3), stream.Version)
	assert.Len(t, stream.Events, 3)
	assert.False(t, stream.CreatedAt.IsZero())
	assert.False(t, stream.UpdatedAt.Before(stream.CreatedAt))
}

func TestEventStoreConcurrencyConflict(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newEventSerializer())

	require.NoError(t, store.AppendEvents(ctx, "order-42", []event.DomainEvent{placedEvent("42")}, 0))

	err := store.AppendEvents(ctx, "order-42", []event.DomainEvent{shippedEvent("42")}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

	var conflict *eventstore.ConcurrencyError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "order-42", conflict.StreamID)
	assert.Equal(t, uint64(0), conflict.ExpectedVersion)
	assert.Equal(t, uint64(1), conflict.ActualVersion)

	// The failed append must not leave partial state behind.
	stored, err := store.GetEvents(ctx, "order-42", 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	version, err := store.GetStreamVersion(ctx, "order-42")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}

func TestEventStoreEmptyAppendIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newEventSerializer())

	require.NoError(t, store.AppendEvents(ctx, "order-42", nil, 0))

	exists, err := store.StreamExists(ctx, "order-42")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEventStoreUnknownStreamReads(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newEventSerializer())

	stored, err := store.GetEvents(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, stored)

	stream, err := store.GetStream(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Equal(t, eventstore.Stream{}, stream)

	version, err := store.GetStreamVersion(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), version)

	exists, err := store.StreamExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEventStoreDeleteStream(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newEventSerializer())

	require.NoError(t, store.AppendEvents(ctx, "order-42", []event.DomainEvent{placedEvent("42")}, 0))
	require.NoError(t, store.DeleteStream(ctx, "order-42"))

	exists, err := store.StreamExists(ctx, "order-42")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting an absent stream succeeds.
	require.NoError(t, store.DeleteStream(ctx, "order-42"))

	// A deleted stream starts over from version zero.
	require.NoError(t, store.AppendEvents(ctx, "order-42", []event.DomainEvent{placedEvent("42")}, 0))
}

func TestEventStoreConcurrentAppendsToDistinctStreams(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newEventSerializer())

	const streams = 16
	var wg sync.WaitGroup
	errs := make([]error, streams)
	for i := 0; i < streams; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			streamID := fmt.Sprintf("order-%d", i)
			errs[i] = store.AppendEvents(ctx, streamID, []event.DomainEvent{placedEvent(streamID)}, 0)
		}(i)
	}
	wg.Wait()

	for i := 0; i < streams; i++ {
		require.NoError(t, errs[i])
		version, err := store.GetStreamVersion(ctx, fmt.Sprintf("order-%d", i))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), version)
	}
}

func TestEventStoreConcurrentAppendersOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(newEventSerializer())

	const appenders = 8
	var wg sync.WaitGroup
	errs := make([]error, appenders)
	for i := 0; i < appenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.AppendEvents(ctx, "order-42", []event.DomainEvent{placedEvent("42")}, 0)
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
		lost++
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, appenders-1, lost)

	version, err := store.GetStreamVersion(ctx, "order-42")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}

func TestEventStoreCancelledContext(t *testing.T) {
	store := NewEventStore(newEventSerializer())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.AppendEvents(ctx, "order-42", []event.DomainEvent{placedEvent("42")}, 0))
	_, err := store.GetEvents(ctx, "order-42", 0)
	assert.Error(t, err)
}
