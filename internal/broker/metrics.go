package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes, used as metric label values.
const (
	OutcomeAcked        = "acked"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

// Metrics counts delivery outcomes and measures processing latency for
// the consuming side of the pipeline.
type Metrics struct {
	Deliveries   *prometheus.CounterVec
	ProcessingMS prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderflow",
		Subsystem: "consumer",
		Name:      "deliveries_total",
		Help:      "Deliveries handled, by terminal outcome.",
	}, []string{"outcome"})

	processing := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orderflow",
		Subsystem: "consumer",
		Name:      "processing_duration_ms",
		Help:      "Per-delivery processing latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	reg.MustRegister(deliveries, processing)
	return &Metrics{Deliveries: deliveries, ProcessingMS: processing}
}

func (m *Metrics) observe(outcome string, latencyMS float64) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
	m.ProcessingMS.Observe(latencyMS)
}
