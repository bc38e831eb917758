// Package metrics exposes Prometheus instrumentation for the event store:
// append throughput and latency, optimistic-concurrency conflicts, read
// latency, and subscription dispatch health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var defaultBuckets = []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}

// StoreMetrics holds the Prometheus collectors for the event store service.
type StoreMetrics struct {
	appendDuration *prometheus.HistogramVec
	readDuration   *prometheus.HistogramVec

	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	eventsDispatched *prometheus.CounterVec
	subscriberLag    *prometheus.GaugeVec
	subscribers      prometheus.Gauge
}

// New creates StoreMetrics and registers all collectors with reg.
func New(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		appendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grimoire_es_append_duration_seconds",
			Help:    "Event store append latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"stream_type"}),

		readDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grimoire_es_read_duration_seconds",
			Help:    "Event store read latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"operation"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grimoire_es_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"stream_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grimoire_es_concurrency_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}, []string{"stream_type"}),

		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grimoire_es_events_dispatched_total",
			Help: "Total number of events delivered to subscribers",
		}, []string{"stream_type"}),

		subscriberLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grimoire_es_subscriber_lag",
			Help: "Positions between the log head and a subscriber's cursor",
		}, []string{"subscriber"}),

		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grimoire_es_subscribers",
			Help: "Number of live subscriptions",
		}),
	}

	reg.MustRegister(
		m.appendDuration,
		m.readDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.eventsDispatched,
		m.subscriberLag,
		m.subscribers,
	)

	return m
}

// NewNop creates StoreMetrics backed by a private registry. Useful in tests
// where collector registration must not collide.
func NewNop() *StoreMetrics {
	return New(prometheus.NewRegistry())
}

// ObserveAppend records one append attempt.
func (m *StoreMetrics) ObserveAppend(streamType string, eventCount int, duration time.Duration, conflict bool) {
	m.appendDuration.WithLabelValues(streamType).Observe(duration.Seconds())
	if conflict {
		m.concurrencyConflicts.WithLabelValues(streamType).Inc()
		return
	}
	m.eventsAppended.WithLabelValues(streamType).Add(float64(eventCount))
}

// ObserveRead records one read operation.
func (m *StoreMetrics) ObserveRead(operation string, duration time.Duration) {
	m.readDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// EventsDispatched records events delivered to a subscriber.
func (m *StoreMetrics) EventsDispatched(streamType string, count int) {
	m.eventsDispatched.WithLabelValues(streamType).Add(float64(count))
}

// SetSubscriberLag records how far behind the log head a subscriber is.
func (m *StoreMetrics) SetSubscriberLag(subscriber string, lag int64) {
	m.subscriberLag.WithLabelValues(subscriber).Set(float64(lag))
}

// SubscriberStarted increments the live subscription gauge.
func (m *StoreMetrics) SubscriberStarted() { m.subscribers.Inc() }

// SubscriberStopped decrements the live subscription gauge.
func (m *StoreMetrics) SubscriberStopped() { m.subscribers.Dec() }
