package amqp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/logging"
)

type nopLogger struct{}

func (l nopLogger) WithField(string, interface{}) logging.Logger { return l }
func (l nopLogger) WithFields(logging.Fields) logging.Logger     { return l }
func (l nopLogger) Info(...interface{})                          {}
func (l nopLogger) Error(error, ...interface{})                  {}
func (l nopLogger) Warning(error, ...interface{})                {}

type publishRecorder struct {
	mu        sync.Mutex
	delivered []string
	at        []time.Time
	done      chan struct{}
	expect    int
}

func newPublishRecorder(expect int) *publishRecorder {
	return &publishRecorder{done: make(chan struct{}), expect: expect}
}

func (r *publishRecorder) publish(_ context.Context, delivery Delivery) error {
	r.mu.Lock()
	r.delivered = append(r.delivered, delivery.Type)
	r.at = append(r.at, time.Now())
	if len(r.delivered) == r.expect {
		close(r.done)
	}
	r.mu.Unlock()
	return nil
}

func (r *publishRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled deliveries did not arrive in time")
	}
}

func (r *publishRecorder) snapshot() ([]string, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.delivered...), append([]time.Time(nil), r.at...)
}

func TestSchedulerDeliversNoEarlierThanDue(t *testing.T) {
	recorder := newPublishRecorder(1)
	s := newScheduler(recorder.publish, time.Second, nopLogger{})
	defer s.stop()

	const delay = 50 * time.Millisecond
	scheduledAt := time.Now()
	require.NoError(t, s.schedule(Delivery{Type: "order.placed"}, scheduledAt.Add(delay)))

	recorder.wait(t)
	_, at := recorder.snapshot()
	assert.GreaterOrEqual(t, at[0].Sub(scheduledAt), delay)
}

func TestSchedulerDeliversInDueOrder(t *testing.T) {
	recorder := newPublishRecorder(3)
	s := newScheduler(recorder.publish, time.Second, nopLogger{})
	defer s.stop()

	now := time.Now()
	// Scheduled out of order; an earlier item arriving later must jump ahead.
	require.NoError(t, s.schedule(Delivery{Type: "third"}, now.Add(90*time.Millisecond)))
	require.NoError(t, s.schedule(Delivery{Type: "first"}, now.Add(30*time.Millisecond)))
	require.NoError(t, s.schedule(Delivery{Type: "second"}, now.Add(60*time.Millisecond)))

	recorder.wait(t)
	delivered, _ := recorder.snapshot()
	assert.Equal(t, []string{"first", "second", "third"}, delivered)
}

func TestSchedulerDeliversDueItemImmediately(t *testing.T) {
	recorder := newPublishRecorder(1)
	s := newScheduler(recorder.publish, time.Second, nopLogger{})
	defer s.stop()

	require.NoError(t, s.schedule(Delivery{Type: "order.placed"}, time.Now().Add(-time.Second)))
	recorder.wait(t)
}

func TestSchedulerStopDropsPending(t *testing.T) {
	recorder := newPublishRecorder(1)
	s := newScheduler(recorder.publish, time.Second, nopLogger{})

	require.NoError(t, s.schedule(Delivery{Type: "order.placed"}, time.Now().Add(time.Hour)))
	s.stop()

	delivered, _ := recorder.snapshot()
	assert.Empty(t, delivered, "an item not yet due is dropped at stop, not delivered early")

	// Scheduling after stop fails instead of silently queueing.
	assert.Error(t, s.schedule(Delivery{Type: "order.placed"}, time.Now()))

	// Stopping twice is safe.
	s.stop()
}
