package outbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/memory"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/infrastructure/serialization"
)

type paymentReceived struct {
	event.IntegrationBase
	PaymentID string `json:"payment_id"`
}

type nopLogger struct{}

func (l nopLogger) WithField(string, interface{}) logging.Logger { return l }
func (l nopLogger) WithFields(logging.Fields) logging.Logger     { return l }
func (l nopLogger) Info(...interface{})                          {}
func (l nopLogger) Error(error, ...interface{})                  {}
func (l nopLogger) Warning(error, ...interface{})                {}

// stubBroker fails the first failures publishes, then succeeds.
type stubBroker struct {
	mu       sync.Mutex
	failures int
	attempts []string
}

func (b *stubBroker) Publish(_ context.Context, e event.IntegrationEvent, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = append(b.attempts, e.EventID())
	if len(b.attempts) <= b.failures {
		return errors.Wrap(outbox.ErrTransport, "broker unavailable")
	}
	return nil
}

func (b *stubBroker) attemptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.attempts)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type processorFixture struct {
	store      *memory.OutboxStore
	deadLetter *memory.DeadLetterStore
	broker     *stubBroker
	clock      *fakeClock
	processor  *outbox.Processor
}

func testConfig() outbox.ProcessorConfig {
	cfg := outbox.DefaultProcessorConfig()
	cfg.MaxRetryCount = 3
	cfg.RetryCooldown = time.Minute
	return cfg
}

func newFixture(t *testing.T, broker *stubBroker, cfg outbox.ProcessorConfig) *processorFixture {
	t.Helper()

	serializer := serialization.NewJSONSerializer()
	serialization.RegisterType[paymentReceived](serializer, "payment.received")

	store := memory.NewOutboxStore(serializer)
	deadLetter := memory.NewDeadLetterStore()
	clock := newFakeClock()

	processor, err := outbox.NewProcessor(
		store,
		broker,
		serializer,
		cfg,
		nopLogger{},
		outbox.WithDeadLetterStore(deadLetter),
		outbox.WithClock(clock.Now),
	)
	require.NoError(t, err)

	return &processorFixture{
		store:      store,
		deadLetter: deadLetter,
		broker:     broker,
		clock:      clock,
		processor:  processor,
	}
}

func (f *processorFixture) addEvent(ctx context.Context, t *testing.T, paymentID string) event.IntegrationEvent {
	t.Helper()
	e := paymentReceived{
		IntegrationBase: event.NewIntegrationBase("payment.received", "payments", 1),
		PaymentID:       paymentID,
	}
	require.NoError(t, f.store.AddEvent(ctx, e, "payments.received"))
	return e
}

func TestProcessorPublishesPendingExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubBroker{}, testConfig())
	f.addEvent(ctx, t, "pay-1")

	require.NoError(t, f.processor.ProcessOnce(ctx))
	assert.Equal(t, 1, f.broker.attemptCount())

	// A published record is never attempted again.
	require.NoError(t, f.processor.ProcessOnce(ctx))
	assert.Equal(t, 1, f.broker.attemptCount())

	stats, err := f.processor.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PublishedEvents)
	assert.Equal(t, int64(0), stats.UnpublishedEvents)
}

func TestProcessorRetriesAfterCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubBroker{failures: 2}, testConfig())
	f.addEvent(ctx, t, "pay-1")

	// First cycle fails the pending attempt.
	require.NoError(t, f.processor.ProcessOnce(ctx))
	assert.Equal(t, 1, f.broker.attemptCount())

	// A second cycle before the cool-down elapses must not retry.
	require.NoError(t, f.processor.ProcessOnce(ctx))
	assert.Equal(t, 1, f.broker.attemptCount())

	// Past the cool-down the record is retried and fails again.
	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.processor.ProcessOnce(ctx))
	assert.Equal(t, 2, f.broker.attemptCount())

	// Third attempt succeeds.
	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.processor.ProcessOnce(ctx))
	assert.Equal(t, 3, f.broker.attemptCount())

	stats, err := f.processor.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PublishedEvents)

	letters, err := f.deadLetter.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, letters)
}

func TestProcessorDeadLettersExhaustedRecord(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	f := newFixture(t, &stubBroker{failures: 100}, cfg)
	e := f.addEvent(ctx, t, "pay-1")

	for i := 0; i < cfg.MaxRetryCount+3; i++ {
		require.NoError(t, f.processor.ProcessOnce(ctx))
		f.clock.Advance(2 * time.Minute)
	}

	// Attempts stop once the retry budget is exhausted.
	assert.Equal(t, cfg.MaxRetryCount, f.broker.attemptCount())

	letters, err := f.deadLetter.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, e.EventID(), letters[0].Record.EventID)
	assert.Equal(t, cfg.MaxRetryCount, letters[0].Record.RetryCount)
	assert.NotEmpty(t, letters[0].Reason)

	// The original record stays in the outbox, unpublished and counted failed.
	stats, err := f.processor.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.UnpublishedEvents)
	assert.Equal(t, int64(1), stats.FailedEvents)
	assert.Equal(t, int64(0), stats.PublishedEvents)
}

func TestProcessorIsolatesFailingRecord(t *testing.T) {
	ctx := context.Background()

	// "payment.refunded" is never registered, so its record fails
	// deserialization while its neighbor delivers.
	serializer := serialization.NewJSONSerializer()
	serialization.RegisterType[paymentReceived](serializer, "payment.received")

	store := memory.NewOutboxStore(serializer)
	broker := &stubBroker{}
	clock := newFakeClock()

	processor, err := outbox.NewProcessor(store, broker, serializer, testConfig(), nopLogger{}, outbox.WithClock(clock.Now))
	require.NoError(t, err)

	first := paymentReceived{IntegrationBase: event.NewIntegrationBase("payment.refunded", "payments", 1), PaymentID: "pay-1"}
	second := paymentReceived{IntegrationBase: event.NewIntegrationBase("payment.received", "payments", 1), PaymentID: "pay-2"}
	require.NoError(t, store.AddEvent(ctx, first, "payments"))
	require.NoError(t, store.AddEvent(ctx, second, "payments"))

	require.NoError(t, processor.ProcessOnce(ctx))

	// The undecodable record was marked failed and the good one delivered.
	stats, err := processor.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PublishedEvents)
	assert.Equal(t, int64(1), stats.UnpublishedEvents)
	assert.Equal(t, 1, broker.attemptCount())
}

func TestProcessorCleanupOldEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubBroker{}, testConfig())
	f.addEvent(ctx, t, "pay-1")

	require.NoError(t, f.processor.ProcessOnce(ctx))

	removed, err := f.processor.CleanupOldEvents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	f.clock.Advance(2 * time.Hour)
	removed, err = f.processor.CleanupOldEvents(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	stats, err := f.processor.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalEvents)
}

func TestProcessorStopsOnCancelledContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubBroker{}, testConfig())
	f.addEvent(ctx, t, "pay-1")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, f.processor.ProcessOnce(cancelled))
	assert.Equal(t, 0, f.broker.attemptCount())
}

func TestProcessorRunDrainsOnShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 20 * time.Millisecond
	cfg.PublishTimeout = 10 * time.Millisecond

	f := newFixture(t, &stubBroker{}, cfg)
	f.addEvent(context.Background(), t, "pay-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.processor.Run(ctx)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// The final best-effort drain delivered the staged record.
	assert.Equal(t, 1, f.broker.attemptCount())
}
