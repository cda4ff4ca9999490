// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/chatsync/internal/ir"
)

const namespace = "chatsync"

// Metrics implements engine.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	enqueued   *prometheus.CounterVec
	delivered  *prometheus.CounterVec
	deferred   prometheus.Counter
	skipped    *prometheus.CounterVec
	passes     *prometheus.CounterVec
	queueDepth prometheus.Gauge
	latency    prometheus.Histogram
}

// New registers the chatsync collectors plus Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_enqueued_total",
			Help:      "Operations appended to the durable queue.",
		}, []string{"kind"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_delivered_total",
			Help:      "Operations replayed successfully and removed from the queue.",
		}, []string{"kind"}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_deferred_total",
			Help:      "Message operations left queued because their placeholder was unresolved.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_skipped_total",
			Help:      "Operations of unknown kind left queued by a pass.",
		}, []string{"kind"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_passes_total",
			Help:      "Replay passes by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Operations still queued at the end of the last pass.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time from starting a replay call to removing the operation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.enqueued,
		m.delivered,
		m.deferred,
		m.skipped,
		m.passes,
		m.queueDepth,
		m.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OperationQueued(kind ir.Kind) {
	m.enqueued.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) OperationDelivered(kind ir.Kind, took time.Duration) {
	m.delivered.WithLabelValues(kind.String()).Inc()
	m.latency.Observe(took.Seconds())
}

func (m *Metrics) OperationDeferred() {
	m.deferred.Inc()
}

func (m *Metrics) OperationSkipped(kind ir.Kind) {
	m.skipped.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) PassFinished(outcome string, remaining int) {
	m.passes.WithLabelValues(outcome).Inc()
	m.queueDepth.Set(float64(remaining))
}
