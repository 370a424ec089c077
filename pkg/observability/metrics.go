// Package observability exposes Prometheus metrics for the graph
// service: mutation counts, peer call latency, and outbox delivery
// outcomes.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the service's Prometheus collectors.
type Metrics struct {
	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	PeerCallDuration *prometheus.HistogramVec
	PeerCallErrors   *prometheus.CounterVec
	OutboxDeliveries *prometheus.CounterVec
	OutboxPending    prometheus.Gauge
}

// NewMetrics registers and returns the service metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindgraph",
			Name:      "graph_mutations_total",
			Help:      "Graph document mutations by operation and outcome.",
		}, []string{"operation", "outcome"}),

		MutationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mindgraph",
			Name:      "graph_mutation_duration_seconds",
			Help:      "Graph mutation latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		PeerCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mindgraph",
			Name:      "embedding_peer_call_duration_seconds",
			Help:      "Embedding/clustering peer call latency by endpoint.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"endpoint"}),

		PeerCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindgraph",
			Name:      "embedding_peer_call_errors_total",
			Help:      "Embedding/clustering peer call failures by endpoint.",
		}, []string{"endpoint"}),

		OutboxDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindgraph",
			Name:      "index_outbox_deliveries_total",
			Help:      "Index outbox delivery attempts by outcome.",
		}, []string{"outcome"}),

		OutboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mindgraph",
			Name:      "index_outbox_pending",
			Help:      "Pending index operations observed at the last sweep.",
		}),
	}
}

// ObserveMutation records one mutation outcome with latency.
func (m *Metrics) ObserveMutation(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.MutationsTotal.WithLabelValues(operation, outcome).Inc()
	m.MutationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObservePeerCall records one peer call with latency.
func (m *Metrics) ObservePeerCall(endpoint string, start time.Time, err error) {
	m.PeerCallDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		m.PeerCallErrors.WithLabelValues(endpoint).Inc()
	}
}
