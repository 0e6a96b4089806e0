// Package query is the tenant-scoped read path over the audit log.
package query

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"chronicle/internal/audit/models"
	"chronicle/internal/audit/store"
	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
)

const queryTimeout = 10 * time.Second

// Engine validates and executes audit log queries. Authorization happens
// upstream; the engine's contract is narrower: no read ever leaves the
// caller's tenant, and without the include-system-actions flag no read
// leaves the caller's own events.
type Engine struct {
	store  store.EventStore
	tracer trace.Tracer
	logger *slog.Logger
}

// NewEngine constructs a query engine.
func NewEngine(eventStore store.EventStore, logger *slog.Logger) *Engine {
	return &Engine{
		store:  eventStore,
		tracer: otel.Tracer("chronicle/query"),
		logger: logger,
	}
}

// Find returns one page of the caller's audit trail.
//
// Errors: CodeForbidden when tenant or (for own-scope reads) actor is
// missing, CodeValidation for bad filters, sorts, or pagination.
func (e *Engine) Find(ctx context.Context, tenant domain.TenantID, actor domain.ActorID, filter models.Filter, sort models.Sort, page models.PageRequest) (models.Page[models.Entry], error) {
	var empty models.Page[models.Entry]

	scope, err := buildScope(tenant, actor, filter)
	if err != nil {
		return empty, err
	}
	if err := filter.Validate(); err != nil {
		return empty, err
	}
	if err := sort.Validate(); err != nil {
		return empty, err
	}
	if err := page.Validate(); err != nil {
		return empty, err
	}
	filter = filter.Normalize()

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "audit.query.find",
		trace.WithAttributes(
			attribute.String("tenant_id", tenant.String()),
			attribute.Int("page", page.Page),
			attribute.Int("size", page.EffectiveSize()),
		))
	defer span.End()

	var (
		events []models.Event
		total  int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = e.store.Query(gctx, scope, filter, sort, page)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = e.store.Count(gctx, scope, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		e.logger.Error("audit query failed", "error", err, "tenant_id", tenant.String())
		return empty, dErrors.Wrap(err, dErrors.CodeInternal, "query audit events")
	}

	entries := make([]models.Entry, len(events))
	for i, event := range events {
		entries[i] = models.EntryFromEvent(event)
	}
	span.SetAttributes(attribute.Int64("total_elements", total))
	return models.NewPage(entries, page, total), nil
}

// buildScope derives the store scope from the caller identity and the
// include-system-actions flag.
func buildScope(tenant domain.TenantID, actor domain.ActorID, filter models.Filter) (store.Scope, error) {
	if tenant.IsNil() {
		return store.Scope{}, dErrors.New(dErrors.CodeForbidden, "query requires a tenant scope")
	}
	scope := store.Scope{Tenant: tenant}
	if !filter.IncludeSystemActions {
		if actor.IsNil() {
			return store.Scope{}, dErrors.New(dErrors.CodeForbidden, "own-activity query requires an actor")
		}
		scope.Actor = actor
	}
	return scope, nil
}
