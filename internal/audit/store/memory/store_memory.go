// Package memory provides the in-memory EventStore used by tests and
// single-node deployments. Concurrency safety comes from a single RWMutex;
// appends from many goroutines need no further coordination.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chronicle/internal/audit/models"
	"chronicle/internal/audit/store"
	"chronicle/pkg/domain"
	"chronicle/pkg/platform/sentinel"
)

// EventStore keeps events per tenant plus an id index for in-place
// compliance redaction. A monotonically increasing sequence preserves
// insertion order for deterministic tie-breaks.
type EventStore struct {
	mu       sync.RWMutex
	byTenant map[domain.TenantID][]*models.Event
	byID     map[domain.EventID]*models.Event
	seq      uint64
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		byTenant: make(map[domain.TenantID][]*models.Event),
		byID:     make(map[domain.EventID]*models.Event),
	}
}

// Clear removes every event. Test helper.
func (s *EventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTenant = make(map[domain.TenantID][]*models.Event)
	s.byID = make(map[domain.EventID]*models.Event)
	s.seq = 0
}

func (s *EventStore) Append(_ context.Context, event *models.Event) (domain.EventID, error) {
	if err := event.Validate(); err != nil {
		return domain.EventID{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneEvent(event)
	if stored.ID.IsNil() {
		stored.ID = domain.NewEventID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.seq++
	stored.Sequence = s.seq

	s.byTenant[stored.TenantID] = append(s.byTenant[stored.TenantID], stored)
	s.byID[stored.ID] = stored
	return stored.ID, nil
}

func (s *EventStore) Query(_ context.Context, scope store.Scope, filter models.Filter, sortBy models.Sort, page models.PageRequest) ([]models.Event, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	// Sorting and cloning read event fields that UpdateRedactedFields
	// mutates in place, so the read lock is held until the page is copied.
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.collect(scope, filter)
	sortEvents(matched, sortBy)

	offset := page.Offset()
	if offset >= len(matched) {
		return []models.Event{}, nil
	}
	end := offset + page.EffectiveSize()
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]models.Event, 0, end-offset)
	for _, e := range matched[offset:end] {
		out = append(out, *cloneEvent(e))
	}
	return out, nil
}

func (s *EventStore) Count(_ context.Context, scope store.Scope, filter models.Filter) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.collect(scope, filter))), nil
}

func (s *EventStore) Facets(_ context.Context, scope store.Scope, filter models.Filter, field store.FacetField) ([]store.FacetItem, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.collect(scope, filter)
	counts := make(map[string]int64)
	order := make([]string, 0)
	for _, e := range matched {
		v := fieldValue(e, field)
		if v == "" {
			continue
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}

	items := make([]store.FacetItem, 0, len(order))
	for _, v := range order {
		items = append(items, store.FacetItem{Value: v, Count: counts[v]})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Value < items[j].Value
	})
	return items, nil
}

func (s *EventStore) DistinctValues(_ context.Context, scope store.Scope, field store.FacetField, term string, limit int) ([]string, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	values := make([]string, 0)
	for _, e := range s.byTenant[scope.Tenant] {
		if !scope.Actor.IsNil() && e.ActorID != scope.Actor {
			continue
		}
		v := fieldValue(e, field)
		if v == "" {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(v), term) {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}

	sort.Strings(values)
	if limit > 0 && len(values) > limit {
		values = values[:limit]
	}
	return values, nil
}

func (s *EventStore) CountDistinct(_ context.Context, scope store.Scope, field store.FacetField) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range s.byTenant[scope.Tenant] {
		if !scope.Actor.IsNil() && e.ActorID != scope.Actor {
			continue
		}
		if v := fieldValue(e, field); v != "" {
			seen[v] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func (s *EventStore) UpdateRedactedFields(_ context.Context, id domain.EventID, fields store.RedactedFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	e.RequestData = fields.RequestData
	e.ResponseData = fields.ResponseData
	e.Metadata = fields.Metadata
	e.ActorName = fields.ActorName
	e.IPAddress = fields.IPAddress
	e.UserAgent = fields.UserAgent
	return nil
}

func (s *EventStore) ListByActor(_ context.Context, actor domain.ActorID) ([]models.Event, error) {
	if actor.IsNil() {
		return nil, sentinel.ErrInvalidState
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Event
	for _, events := range s.byTenant {
		for _, e := range events {
			if e.ActorID == actor {
				out = append(out, *cloneEvent(e))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *EventStore) DeleteByActor(_ context.Context, actor domain.ActorID) (int64, error) {
	if actor.IsNil() {
		return 0, sentinel.ErrInvalidState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for tenant, events := range s.byTenant {
		kept := events[:0]
		for _, e := range events {
			if e.ActorID == actor {
				delete(s.byID, e.ID)
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		s.byTenant[tenant] = kept
	}
	return deleted, nil
}

func (s *EventStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for tenant, events := range s.byTenant {
		kept := events[:0]
		for _, e := range events {
			if e.CreatedAt.Before(cutoff) {
				delete(s.byID, e.ID)
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		s.byTenant[tenant] = kept
	}
	return deleted, nil
}

// collect gathers matching events under the read lock. Caller holds mu.
func (s *EventStore) collect(scope store.Scope, filter models.Filter) []*models.Event {
	filter = filter.Normalize()
	var matched []*models.Event
	for _, e := range s.byTenant[scope.Tenant] {
		if !scope.Actor.IsNil() && e.ActorID != scope.Actor {
			continue
		}
		if !filter.Matches(e) {
			continue
		}
		matched = append(matched, e)
	}
	return matched
}

func sortEvents(events []*models.Event, by models.Sort) {
	asc := by.Direction == domain.SortAsc
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		var less, equal bool
		switch by.Field {
		case domain.SortByAction:
			less, equal = a.Action < b.Action, a.Action == b.Action
		case domain.SortByActor:
			less, equal = a.ActorName < b.ActorName, a.ActorName == b.ActorName
		case domain.SortByResourceType:
			less, equal = a.ResourceType < b.ResourceType, a.ResourceType == b.ResourceType
		case domain.SortByOutcome:
			less, equal = a.Outcome < b.Outcome, a.Outcome == b.Outcome
		default:
			less = a.CreatedAt.Before(b.CreatedAt)
			equal = a.CreatedAt.Equal(b.CreatedAt)
		}
		if equal {
			// Insertion order is the stable secondary key so identical
			// timestamps paginate deterministically.
			if asc {
				return a.Sequence < b.Sequence
			}
			return a.Sequence > b.Sequence
		}
		if asc {
			return less
		}
		return !less
	})
}

func fieldValue(e *models.Event, field store.FacetField) string {
	switch field {
	case store.FacetAction:
		return e.Action
	case store.FacetOutcome:
		return e.Outcome.String()
	case store.FacetActorName:
		return e.ActorName
	case store.FacetResourceType:
		return e.ResourceType
	default:
		return ""
	}
}

func cloneEvent(e *models.Event) *models.Event {
	c := *e
	c.RequestData = cloneAnyMap(e.RequestData)
	c.ResponseData = cloneAnyMap(e.ResponseData)
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneAnyMap(vv)
		case []any:
			cp := make([]any, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
