package nakadi

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives measurements from the consumption pipeline. All
// methods must be safe for concurrent use and must not block; they are called
// from the hot path.
type MetricsCollector interface {
	// ConnectAttempt is called before every attempt to open a stream.
	ConnectAttempt()
	// StreamStarted is called when a stream was opened successfully.
	StreamStarted()
	// BatchReceived is called for every batch read off the wire that
	// carries events.
	BatchReceived()
	// KeepAliveReceived is called for every keep-alive batch.
	KeepAliveReceived()
	// DispatcherWorkers reports the current number of partition workers.
	DispatcherWorkers(count int)
	// EventsHandled is called after a handler processed a batch with the
	// number of events in that batch.
	EventsHandled(count int)
	// CursorsCommitted is called after a successful commit with the number
	// of cursors in the request.
	CursorsCommitted(count int)
	// CommitFailed is called for every failed commit attempt.
	CommitFailed()
}

// nopMetrics discards all measurements. It is the default collector.
type nopMetrics struct{}

func (nopMetrics) ConnectAttempt()       {}
func (nopMetrics) StreamStarted()        {}
func (nopMetrics) BatchReceived()        {}
func (nopMetrics) KeepAliveReceived()    {}
func (nopMetrics) DispatcherWorkers(int) {}
func (nopMetrics) EventsHandled(int)     {}
func (nopMetrics) CursorsCommitted(int)  {}
func (nopMetrics) CommitFailed()         {}

// PrometheusMetrics implements MetricsCollector on top of Prometheus
// collectors. All metrics carry the subscription id as a label so that
// several consumers can share one registry.
type PrometheusMetrics struct {
	subscriptionID  string
	connectAttempts *prometheus.CounterVec
	streamsStarted  *prometheus.CounterVec
	batches         *prometheus.CounterVec
	keepAlives      *prometheus.CounterVec
	workers         *prometheus.GaugeVec
	events          *prometheus.CounterVec
	committed       *prometheus.CounterVec
	commitFailures  *prometheus.CounterVec
}

// NewPrometheusMetrics creates a collector for one subscription and registers
// its metrics with the given registerer. A nil registerer leaves the metrics
// unregistered, which is useful in tests.
func NewPrometheusMetrics(subscriptionID string, registerer prometheus.Registerer) *PrometheusMetrics {
	labels := []string{"subscription"}
	m := &PrometheusMetrics{
		subscriptionID: subscriptionID,
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakadi_consumer_connect_attempts_total",
			Help: "Number of attempts to open a stream.",
		}, labels),
		streamsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakadi_consumer_streams_started_total",
			Help: "Number of successfully opened streams.",
		}, labels),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakadi_consumer_batches_total",
			Help: "Number of event batches received.",
		}, labels),
		keepAlives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakadi_consumer_keep_alives_total",
			Help: "Number of keep-alive batches received.",
		}, labels),
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nakadi_consumer_workers",
			Help: "Current number of partition workers.",
		}, labels),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakadi_consumer_events_total",
			Help: "Number of events passed to handlers.",
		}, labels),
		committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakadi_consumer_cursors_committed_total",
			Help: "Number of cursors committed to Nakadi.",
		}, labels),
		commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakadi_consumer_commit_failures_total",
			Help: "Number of failed commit attempts.",
		}, labels),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.connectAttempts, m.streamsStarted, m.batches, m.keepAlives,
			m.workers, m.events, m.committed, m.commitFailures)
	}

	return m
}

func (m *PrometheusMetrics) ConnectAttempt() {
	m.connectAttempts.WithLabelValues(m.subscriptionID).Inc()
}

func (m *PrometheusMetrics) StreamStarted() {
	m.streamsStarted.WithLabelValues(m.subscriptionID).Inc()
}

func (m *PrometheusMetrics) BatchReceived() {
	m.batches.WithLabelValues(m.subscriptionID).Inc()
}

func (m *PrometheusMetrics) KeepAliveReceived() {
	m.keepAlives.WithLabelValues(m.subscriptionID).Inc()
}

func (m *PrometheusMetrics) DispatcherWorkers(count int) {
	m.workers.WithLabelValues(m.subscriptionID).Set(float64(count))
}

func (m *PrometheusMetrics) EventsHandled(count int) {
	m.events.WithLabelValues(m.subscriptionID).Add(float64(count))
}

func (m *PrometheusMetrics) CursorsCommitted(count int) {
	m.committed.WithLabelValues(m.subscriptionID).Add(float64(count))
}

func (m *PrometheusMetrics) CommitFailed() {
	m.commitFailures.WithLabelValues(m.subscriptionID).Inc()
}

var (
	_ MetricsCollector = nopMetrics{}
	_ MetricsCollector = (*PrometheusMetrics)(nil)
)
