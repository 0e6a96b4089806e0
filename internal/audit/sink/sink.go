// Package sink forwards committed audit events to external systems (SIEM
// ingestion over Kafka). Delivery is best-effort and never blocks the
// ingest path: events are buffered, the oldest are dropped under
// backpressure, and a circuit breaker stops produce attempts during broker
// outages.
package sink

import (
	"context"

	"chronicle/internal/audit/models"
)

// Sink receives events after they are durably appended. Publish must not
// block; implementations buffer internally.
type Sink interface {
	Publish(event models.Event)
	Close(ctx context.Context) error
}

// Noop is the sink used when no SIEM forwarding is configured.
type Noop struct{}

func (Noop) Publish(models.Event)        {}
func (Noop) Close(context.Context) error { return nil }
