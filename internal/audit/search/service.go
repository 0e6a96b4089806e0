// Package search layers highlighting, facet aggregation, and typeahead
// suggestions over the query engine's scoped reads.
package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"chronicle/internal/audit/models"
	"chronicle/internal/audit/query"
	"chronicle/internal/audit/store"
	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
	pstrings "chronicle/pkg/platform/strings"
)

const (
	// MinSuggestionLength is the shortest partial term that produces
	// suggestions. Shorter input returns an empty list, not an error.
	MinSuggestionLength = 2

	// DefaultSuggestionLimit caps the merged suggestion list.
	DefaultSuggestionLimit = 10

	markOpen  = "<mark>"
	markClose = "</mark>"
)

// Result is one search hit. Highlights carries marked-up copies of
// display fields only; identifiers and actor contact fields are never
// highlighted so markup cannot leak them.
type Result struct {
	models.Entry
	Highlights map[string]string `json:"highlights,omitempty"`
}

// Facets is the filter-UI aggregation over one scoped result set.
type Facets struct {
	ActionTypes []store.FacetItem `json:"action_types"`
	Outcomes    []store.FacetItem `json:"outcomes"`
}

// Service executes advanced searches.
type Service struct {
	engine *query.Engine
	store  store.EventStore
	tracer trace.Tracer
	logger *slog.Logger
}

// NewService constructs a search service sharing the query engine's scope
// rules.
func NewService(engine *query.Engine, eventStore store.EventStore, logger *slog.Logger) *Service {
	return &Service{
		engine: engine,
		store:  eventStore,
		tracer: otel.Tracer("chronicle/search"),
		logger: logger,
	}
}

// Search runs a scoped query and, when the filter carries a search term,
// attaches highlight markup to the display fields of each hit.
func (s *Service) Search(ctx context.Context, tenant domain.TenantID, actor domain.ActorID, filter models.Filter, sortBy models.Sort, page models.PageRequest) (models.Page[Result], error) {
	ctx, span := s.tracer.Start(ctx, "audit.search",
		trace.WithAttributes(attribute.String("tenant_id", tenant.String())))
	defer span.End()

	found, err := s.engine.Find(ctx, tenant, actor, filter, sortBy, page)
	if err != nil {
		return models.Page[Result]{}, err
	}

	term := strings.ToLower(strings.TrimSpace(filter.Search))
	return models.MapPage(found, func(entry models.Entry) Result {
		result := Result{Entry: entry}
		if term != "" {
			result.Highlights = highlightEntry(entry, term)
		}
		return result
	}), nil
}

// Facets returns action-type and outcome distributions for the scoped
// filter. Each facet drops its own clause so already-selected values keep
// their sibling counts.
func (s *Service) Facets(ctx context.Context, tenant domain.TenantID, actor domain.ActorID, filter models.Filter) (Facets, error) {
	scope, err := scopeFor(tenant, actor, filter)
	if err != nil {
		return Facets{}, err
	}
	if err := filter.Validate(); err != nil {
		return Facets{}, err
	}
	filter = filter.Normalize()

	ctx, span := s.tracer.Start(ctx, "audit.search.facets",
		trace.WithAttributes(attribute.String("tenant_id", tenant.String())))
	defer span.End()

	var facets Facets
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		actionFilter := filter
		actionFilter.ActionTypes = nil
		items, err := s.store.Facets(gctx, scope, actionFilter, store.FacetAction)
		if err != nil {
			return err
		}
		facets.ActionTypes = items
		return nil
	})
	g.Go(func() error {
		outcomeFilter := filter
		outcomeFilter.Outcomes = nil
		items, err := s.store.Facets(gctx, scope, outcomeFilter, store.FacetOutcome)
		if err != nil {
			return err
		}
		facets.Outcomes = items
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return Facets{}, dErrors.Wrap(err, dErrors.CodeInternal, "compute facets")
	}
	return facets, nil
}

// Suggest returns up to limit distinct action types and actor names whose
// lower-cased form contains the partial term. Input below the minimum
// length yields an empty list.
func (s *Service) Suggest(ctx context.Context, tenant domain.TenantID, actor domain.ActorID, term string, limit int) ([]string, error) {
	scope, err := scopeFor(tenant, actor, models.Filter{})
	if err != nil {
		return nil, err
	}

	term = strings.TrimSpace(term)
	if len(term) < MinSuggestionLength {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}

	var actions, actors []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		actions, err = s.store.DistinctValues(gctx, scope, store.FacetAction, term, limit)
		return err
	})
	g.Go(func() error {
		var err error
		actors, err = s.store.DistinctValues(gctx, scope, store.FacetActorName, term, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "compute suggestions")
	}

	merged := pstrings.DedupeAndTrim(append(actions, actors...))
	sort.Strings(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// highlightEntry marks term occurrences in the display fields. Actor
// identifiers, IPs, and correlation ids are deliberately excluded.
func highlightEntry(entry models.Entry, term string) map[string]string {
	highlights := make(map[string]string)
	for field, value := range map[string]string{
		"action":        entry.Action,
		"resource_type": entry.ResourceType,
		"description":   entry.Description,
	} {
		if marked, ok := highlight(value, term); ok {
			highlights[field] = marked
		}
	}
	if len(highlights) == 0 {
		return nil
	}
	return highlights
}

// highlight wraps every case-insensitive occurrence of term in value,
// preserving the original casing of the matched text.
func highlight(value, term string) (string, bool) {
	if value == "" || term == "" {
		return "", false
	}
	lower := strings.ToLower(value)
	var b strings.Builder
	var matched bool
	i := 0
	for {
		j := strings.Index(lower[i:], term)
		if j < 0 {
			b.WriteString(value[i:])
			break
		}
		j += i
		b.WriteString(value[i:j])
		b.WriteString(markOpen)
		b.WriteString(value[j : j+len(term)])
		b.WriteString(markClose)
		i = j + len(term)
		matched = true
	}
	if !matched {
		return "", false
	}
	return b.String(), true
}

func scopeFor(tenant domain.TenantID, actor domain.ActorID, filter models.Filter) (store.Scope, error) {
	if tenant.IsNil() {
		return store.Scope{}, dErrors.New(dErrors.CodeForbidden, "search requires a tenant scope")
	}
	scope := store.Scope{Tenant: tenant}
	if !filter.IncludeSystemActions {
		if actor.IsNil() {
			return store.Scope{}, dErrors.New(dErrors.CodeForbidden, "own-activity search requires an actor")
		}
		scope.Actor = actor
	}
	return scope, nil
}
