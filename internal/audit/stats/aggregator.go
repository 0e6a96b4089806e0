// Package stats derives per-tenant rollups from the event store. There is
// no materialized state; every figure is computed from the store's count
// primitives at read time.
package stats

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"chronicle/internal/audit/models"
	"chronicle/internal/audit/store"
	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
)

const statsTimeout = 10 * time.Second

// Statistics is the per-tenant rollup.
type Statistics struct {
	TotalEvents           int64 `json:"total_events"`
	EventsLast24Hours     int64 `json:"events_last_24_hours"`
	EventsLast7Days       int64 `json:"events_last_7_days"`
	DistinctActionTypes   int64 `json:"distinct_action_types"`
	DistinctResourceTypes int64 `json:"distinct_resource_types"`
}

// Aggregator computes statistics for one tenant at a time.
type Aggregator struct {
	store  store.EventStore
	logger *slog.Logger
}

// NewAggregator constructs the aggregator.
func NewAggregator(eventStore store.EventStore, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: eventStore, logger: logger}
}

// Statistics returns the tenant's rollup. The five figures are computed
// concurrently; windows are anchored at call time.
func (a *Aggregator) Statistics(ctx context.Context, tenant domain.TenantID) (*Statistics, error) {
	if tenant.IsNil() {
		return nil, dErrors.New(dErrors.CodeForbidden, "statistics require a tenant scope")
	}
	scope := store.Scope{Tenant: tenant}
	now := time.Now()
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	var out Statistics
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.TotalEvents, err = a.store.Count(gctx, scope, models.Filter{})
		return err
	})
	g.Go(func() (err error) {
		out.EventsLast24Hours, err = a.store.Count(gctx, scope, models.Filter{DateFrom: &dayAgo})
		return err
	})
	g.Go(func() (err error) {
		out.EventsLast7Days, err = a.store.Count(gctx, scope, models.Filter{DateFrom: &weekAgo})
		return err
	})
	g.Go(func() (err error) {
		out.DistinctActionTypes, err = a.store.CountDistinct(gctx, scope, store.FacetAction)
		return err
	})
	g.Go(func() (err error) {
		out.DistinctResourceTypes, err = a.store.CountDistinct(gctx, scope, store.FacetResourceType)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "aggregate audit statistics")
	}
	return &out, nil
}
