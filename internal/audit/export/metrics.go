package export

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the export pipeline.
type Metrics struct {
	Requested prometheus.Counter
	Completed prometheus.Counter
	Failed    prometheus.Counter
	Cancelled prometheus.Counter
	Downloads prometheus.Counter
	Duration  prometheus.Histogram
}

// NewMetrics registers the export metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Requested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_exports_requested_total",
			Help: "Total number of export jobs accepted",
		}),
		Completed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_exports_completed_total",
			Help: "Total number of export jobs that produced an artifact",
		}),
		Failed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_exports_failed_total",
			Help: "Total number of export jobs that ended in failure",
		}),
		Cancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_exports_cancelled_total",
			Help: "Total number of export jobs cancelled by their owner",
		}),
		Downloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_export_downloads_total",
			Help: "Total number of artifact downloads served",
		}),
		Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_export_duration_seconds",
			Help:    "Duration of export job execution",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
	}
}

// ObserveDuration records one finished export run. Call with the job start
// time.
func (m *Metrics) ObserveDuration(start time.Time) {
	m.Duration.Observe(time.Since(start).Seconds())
}
