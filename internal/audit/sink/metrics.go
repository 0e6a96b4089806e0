package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for SIEM forwarding.
type Metrics struct {
	Published     prometheus.Counter
	PublishErrors prometheus.Counter
	Dropped       prometheus.Counter
	BufferDepth   prometheus.Gauge
	CircuitOpen   prometheus.Gauge
}

// NewMetrics registers the sink metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_sink_published_total",
			Help: "Total number of events forwarded to the SIEM topic",
		}),
		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_sink_publish_errors_total",
			Help: "Total number of failed produce attempts",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_sink_dropped_total",
			Help: "Total number of events dropped under backpressure",
		}),
		BufferDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chronicle_sink_buffer_depth",
			Help: "Current number of events waiting in the sink buffer",
		}),
		CircuitOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chronicle_sink_circuit_open",
			Help: "1 when the broker circuit breaker is open",
		}),
	}
}
