package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the compliance enforcer.
type Metrics struct {
	ExpiredEvents  prometheus.Counter
	RedactedEvents prometheus.Counter
	ErasedEvents   prometheus.Counter
	Failures       prometheus.Counter
}

// NewMetrics registers the compliance metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ExpiredEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_compliance_expired_events_total",
			Help: "Total number of events deleted by retention expiry",
		}),
		RedactedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_compliance_redacted_events_total",
			Help: "Total number of events scrubbed by actor redaction",
		}),
		ErasedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_compliance_erased_events_total",
			Help: "Total number of events removed by actor erasure",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_compliance_failures_total",
			Help: "Total number of compliance operations that failed",
		}),
	}
}
