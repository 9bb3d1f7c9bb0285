package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes processor counters to an operator. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	published       prometheus.Counter
	failed          prometheus.Counter
	deadLettered    prometheus.Counter
	publishDuration prometheus.Histogram
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total outbox records delivered to the broker.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total failed outbox delivery attempts.",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_dead_lettered_total",
			Help: "Total outbox records moved to the dead letter store.",
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_publish_duration_seconds",
			Help:    "Broker publish latency per outbox record in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registerer.MustRegister(m.published, m.failed, m.deadLettered, m.publishDuration)
	return m
}

func (m *Metrics) observePublished(duration time.Duration) {
	if m == nil {
		return
	}
	m.published.Inc()
	m.publishDuration.Observe(duration.Seconds())
}

func (m *Metrics) observeFailed() {
	if m == nil {
		return
	}
	m.failed.Inc()
}

func (m *Metrics) observeDeadLettered() {
	if m == nil {
		return
	}
	m.deadLettered.Inc()
}
