package dbexec

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts executed document statements and tracks their
// latency. Build it once per process; the underlying registry rejects
// duplicate registration.
type Metrics struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics builds and registers the executor metrics. A nil
// registerer falls back to the process-wide default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docquery_documents_total",
			Help: "Document statements executed, labelled by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docquery_document_duration_seconds",
			Help:    "Wall time spent producing a document.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.queries, m.duration)
	return m
}

func (m *Metrics) observe(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
