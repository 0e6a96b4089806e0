package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ingestion pipeline.
type Metrics struct {
	Accepted       prometheus.Counter
	Rejected       prometheus.Counter
	AppendFailures prometheus.Counter
	QueueDepth     prometheus.Gauge
	AppendDuration prometheus.Histogram
}

// NewMetrics registers the ingestion metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Accepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_ingest_accepted_total",
			Help: "Total number of events accepted into the ingest queue",
		}),
		Rejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_ingest_rejected_total",
			Help: "Total number of events rejected because the queue was full",
		}),
		AppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_ingest_append_failures_total",
			Help: "Total number of events that failed to persist",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chronicle_ingest_queue_depth",
			Help: "Current number of events waiting in the ingest queue",
		}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_ingest_append_duration_seconds",
			Help:    "Duration of event persistence",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObserveAppend records the duration of one append. Call with time.Now()
// taken at the start of the operation.
func (m *Metrics) ObserveAppend(start time.Time) {
	m.AppendDuration.Observe(time.Since(start).Seconds())
}
