package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit/models"
	"chronicle/internal/audit/store"
	"chronicle/pkg/domain"
	"chronicle/pkg/platform/sentinel"
)

type EventStoreSuite struct {
	suite.Suite
	store  *EventStore
	ctx    context.Context
	tenant domain.TenantID
	actor  domain.ActorID
	base   time.Time
}

func (s *EventStoreSuite) SetupTest() {
	s.store = NewEventStore()
	s.ctx = context.Background()
	s.tenant = domain.TenantID(uuid.New())
	s.actor = domain.ActorID(uuid.New())
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestEventStoreSuite(t *testing.T) {
	suite.Run(t, new(EventStoreSuite))
}

func (s *EventStoreSuite) newEvent(action string, at time.Time) *models.Event {
	return &models.Event{
		TenantID:     s.tenant,
		ActorID:      s.actor,
		ActorName:    "Jane Operator",
		Action:       action,
		ResourceType: "invoice",
		ResourceID:   "inv-1",
		Outcome:      domain.OutcomeSuccess,
		Severity:     domain.SeverityInfo,
		CreatedAt:    at,
	}
}

func (s *EventStoreSuite) append(e *models.Event) domain.EventID {
	id, err := s.store.Append(s.ctx, e)
	s.Require().NoError(err)
	return id
}

func (s *EventStoreSuite) scope() store.Scope {
	return store.Scope{Tenant: s.tenant}
}

// TestAppend verifies id assignment, validation, and append-only storage.
func (s *EventStoreSuite) TestAppend() {
	s.Run("assigns id, timestamp, and sequence", func() {
		id := s.append(&models.Event{TenantID: s.tenant, Action: "user.login", CreatedAt: time.Time{}})
		s.False(id.IsNil())

		events, err := s.store.Query(s.ctx, s.scope(), models.Filter{}, models.DefaultSort(), models.DefaultPage())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.False(events[0].CreatedAt.IsZero())
		s.NotZero(events[0].Sequence)
	})

	s.Run("rejects an event without a tenant", func() {
		_, err := s.store.Append(s.ctx, &models.Event{Action: "user.login"})
		s.Require().Error(err)
	})

	s.Run("rejects an event without an action", func() {
		_, err := s.store.Append(s.ctx, &models.Event{TenantID: s.tenant})
		s.Require().Error(err)
	})

	s.Run("stores a copy, not the caller's maps", func() {
		e := s.newEvent("payment.captured", s.base)
		e.RequestData = map[string]any{"amount": 100}
		s.append(e)

		e.RequestData["amount"] = 999

		events, err := s.store.Query(s.ctx, s.scope(), models.Filter{}, models.DefaultSort(), models.DefaultPage())
		s.Require().NoError(err)
		s.Equal(100, events[0].RequestData["amount"])
	})
}

// TestTenantIsolation verifies the mandatory tenant scope.
func (s *EventStoreSuite) TestTenantIsolation() {
	other := domain.TenantID(uuid.New())
	s.append(s.newEvent("user.login", s.base))
	otherEvent := s.newEvent("user.login", s.base)
	otherEvent.TenantID = other
	s.append(otherEvent)

	s.Run("query returns only the scoped tenant's events", func() {
		events, err := s.store.Query(s.ctx, s.scope(), models.Filter{}, models.DefaultSort(), models.DefaultPage())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(s.tenant, events[0].TenantID)
	})

	s.Run("rejects an empty scope", func() {
		_, err := s.store.Query(s.ctx, store.Scope{}, models.Filter{}, models.DefaultSort(), models.DefaultPage())
		s.Require().ErrorIs(err, store.ErrMissingTenant)

		_, err = s.store.Count(s.ctx, store.Scope{}, models.Filter{})
		s.Require().ErrorIs(err, store.ErrMissingTenant)
	})

	s.Run("actor scope narrows to own events", func() {
		stranger := s.newEvent("user.logout", s.base)
		stranger.ActorID = domain.ActorID(uuid.New())
		s.append(stranger)

		events, err := s.store.Query(s.ctx, store.Scope{Tenant: s.tenant, Actor: s.actor}, models.Filter{}, models.DefaultSort(), models.DefaultPage())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(s.actor, events[0].ActorID)
	})
}

// TestFiltering verifies the predicate clauses the query engine relies on.
func (s *EventStoreSuite) TestFiltering() {
	s.append(s.newEvent("user.login", s.base))
	failed := s.newEvent("user.login", s.base.Add(time.Hour))
	failed.Outcome = domain.OutcomeFailure
	s.append(failed)
	export := s.newEvent("export.requested", s.base.Add(2*time.Hour))
	export.ResourceType = "export"
	s.append(export)

	s.Run("by action type", func() {
		n, err := s.store.Count(s.ctx, s.scope(), models.Filter{ActionTypes: []string{"user.login"}})
		s.Require().NoError(err)
		s.EqualValues(2, n)
	})

	s.Run("by outcome", func() {
		n, err := s.store.Count(s.ctx, s.scope(), models.Filter{Outcomes: []domain.Outcome{domain.OutcomeFailure}})
		s.Require().NoError(err)
		s.EqualValues(1, n)
	})

	s.Run("by date range", func() {
		from := s.base.Add(30 * time.Minute)
		to := s.base.Add(90 * time.Minute)
		n, err := s.store.Count(s.ctx, s.scope(), models.Filter{DateFrom: &from, DateTo: &to})
		s.Require().NoError(err)
		s.EqualValues(1, n)
	})

	s.Run("by search term", func() {
		n, err := s.store.Count(s.ctx, s.scope(), models.Filter{Search: "EXPORT"})
		s.Require().NoError(err)
		s.EqualValues(1, n)
	})
}

// TestOrderingAndPagination verifies deterministic paging with the sequence
// tie-break.
func (s *EventStoreSuite) TestOrderingAndPagination() {
	// All 25 events share one timestamp so ordering falls entirely to the
	// insertion sequence.
	for i := 0; i < 25; i++ {
		s.append(s.newEvent("bulk.write", s.base))
	}

	s.Run("pages never overlap and cover everything", func() {
		seen := make(map[string]bool)
		for page := 0; page < 3; page++ {
			events, err := s.store.Query(s.ctx, s.scope(), models.Filter{}, models.DefaultSort(), models.PageRequest{Page: page, Size: 10})
			s.Require().NoError(err)
			for _, e := range events {
				s.False(seen[e.ID.String()], "event appeared on two pages")
				seen[e.ID.String()] = true
			}
		}
		s.Len(seen, 25)
	})

	s.Run("descending default puts the latest insert first", func() {
		events, err := s.store.Query(s.ctx, s.scope(), models.Filter{}, models.DefaultSort(), models.PageRequest{Page: 0, Size: 5})
		s.Require().NoError(err)
		s.Require().Len(events, 5)
		for i := 1; i < len(events); i++ {
			s.Greater(events[i-1].Sequence, events[i].Sequence)
		}
	})

	s.Run("page past the end is empty, not an error", func() {
		events, err := s.store.Query(s.ctx, s.scope(), models.Filter{}, models.DefaultSort(), models.PageRequest{Page: 99, Size: 10})
		s.Require().NoError(err)
		s.Empty(events)
	})

	s.Run("sorts by allow-listed field", func() {
		alpha := s.newEvent("aaa.first", s.base)
		s.append(alpha)
		events, err := s.store.Query(s.ctx, s.scope(), models.Filter{}, models.Sort{Field: domain.SortByAction, Direction: domain.SortAsc}, models.PageRequest{Page: 0, Size: 1})
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal("aaa.first", events[0].Action)
	})
}

// TestFacetsAndDistinct verifies the aggregation surface.
func (s *EventStoreSuite) TestFacetsAndDistinct() {
	for i := 0; i < 3; i++ {
		s.append(s.newEvent("user.login", s.base))
	}
	s.append(s.newEvent("user.logout", s.base))

	s.Run("facets order by count descending", func() {
		items, err := s.store.Facets(s.ctx, s.scope(), models.Filter{}, store.FacetAction)
		s.Require().NoError(err)
		s.Require().Len(items, 2)
		s.Equal(store.FacetItem{Value: "user.login", Count: 3}, items[0])
		s.Equal(store.FacetItem{Value: "user.logout", Count: 1}, items[1])
	})

	s.Run("distinct values honor the term and limit", func() {
		values, err := s.store.DistinctValues(s.ctx, s.scope(), store.FacetAction, "LOG", 10)
		s.Require().NoError(err)
		s.Equal([]string{"user.login", "user.logout"}, values)

		values, err = s.store.DistinctValues(s.ctx, s.scope(), store.FacetAction, "", 1)
		s.Require().NoError(err)
		s.Len(values, 1)
	})

	s.Run("count distinct", func() {
		n, err := s.store.CountDistinct(s.ctx, s.scope(), store.FacetAction)
		s.Require().NoError(err)
		s.EqualValues(2, n)
	})
}

// TestRedactionUpdate verifies the single in-place mutation path.
func (s *EventStoreSuite) TestRedactionUpdate() {
	s.Run("overwrites payload fields only", func() {
		e := s.newEvent("user.login", s.base)
		e.RequestData = map[string]any{"email": "jane@example.com"}
		id := s.append(e)

		err := s.store.UpdateRedactedFields(s.ctx, id, store.RedactedFields{
			RequestData: map[string]any{"email": "[REDACTED]"},
			ActorName:   "[REDACTED]",
		})
		s.Require().NoError(err)

		events, err := s.store.Query(s.ctx, s.scope(), models.Filter{}, models.DefaultSort(), models.DefaultPage())
		s.Require().NoError(err)
		s.Equal("[REDACTED]", events[0].RequestData["email"])
		s.Equal("[REDACTED]", events[0].ActorName)
		s.Equal("user.login", events[0].Action)
		s.Equal(id, events[0].ID)
	})

	s.Run("unknown id yields ErrNotFound", func() {
		err := s.store.UpdateRedactedFields(s.ctx, domain.NewEventID(), store.RedactedFields{})
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestComplianceOperations verifies the cross-tenant actor operations and
// retention deletion.
func (s *EventStoreSuite) TestComplianceOperations() {
	otherTenant := domain.TenantID(uuid.New())

	first := s.newEvent("user.login", s.base)
	s.append(first)
	second := s.newEvent("user.logout", s.base.Add(time.Hour))
	second.TenantID = otherTenant
	s.append(second)
	stranger := s.newEvent("user.login", s.base)
	stranger.ActorID = domain.ActorID(uuid.New())
	s.append(stranger)

	s.Run("list by actor spans tenants, oldest first", func() {
		events, err := s.store.ListByActor(s.ctx, s.actor)
		s.Require().NoError(err)
		s.Require().Len(events, 2)
		s.Equal("user.login", events[0].Action)
		s.Equal("user.logout", events[1].Action)
	})

	s.Run("delete by actor removes only that actor's events", func() {
		deleted, err := s.store.DeleteByActor(s.ctx, s.actor)
		s.Require().NoError(err)
		s.EqualValues(2, deleted)

		remaining, err := s.store.ListByActor(s.ctx, stranger.ActorID)
		s.Require().NoError(err)
		s.Len(remaining, 1)
	})

	s.Run("nil actor is rejected", func() {
		_, err := s.store.ListByActor(s.ctx, domain.ActorID{})
		s.Require().Error(err)
	})
}

// TestConcurrentQueryAndRedaction exercises reads against in-place
// redaction. Sorting and cloning must happen under the read lock; the race
// detector flags this test if they ever move outside it.
func (s *EventStoreSuite) TestConcurrentQueryAndRedaction() {
	ids := make([]domain.EventID, 0, 200)
	for i := 0; i < 200; i++ {
		e := s.newEvent("user.login", s.base.Add(time.Duration(i)*time.Second))
		e.RequestData = map[string]any{"email": "jane@example.com"}
		ids = append(ids, s.append(e))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, id := range ids {
			err := s.store.UpdateRedactedFields(s.ctx, id, store.RedactedFields{
				RequestData: map[string]any{"email": "[REDACTED]"},
				ActorName:   "[REDACTED]",
			})
			s.NoError(err)
		}
	}()

	sortByActor := models.Sort{Field: domain.SortByActor, Direction: domain.SortAsc}
	for i := 0; i < 50; i++ {
		events, err := s.store.Query(s.ctx, s.scope(), models.Filter{}, sortByActor, models.PageRequest{Page: 0, Size: 200})
		s.Require().NoError(err)
		s.Require().Len(events, 200)

		_, err = s.store.Facets(s.ctx, s.scope(), models.Filter{}, store.FacetActorName)
		s.Require().NoError(err)
	}
	<-done

	events, err := s.store.Query(s.ctx, s.scope(), models.Filter{}, models.DefaultSort(), models.PageRequest{Page: 0, Size: 200})
	s.Require().NoError(err)
	for _, e := range events {
		s.Equal("[REDACTED]", e.ActorName)
	}
}

func (s *EventStoreSuite) TestRetentionDeletion() {
	old := s.newEvent("old.event", s.base.AddDate(-8, 0, 0))
	s.append(old)
	s.append(s.newEvent("fresh.event", s.base))

	cutoff := s.base.AddDate(-7, 0, 0)

	deleted, err := s.store.DeleteOlderThan(s.ctx, cutoff)
	s.Require().NoError(err)
	s.EqualValues(1, deleted)

	// Idempotent: a second sweep finds nothing.
	deleted, err = s.store.DeleteOlderThan(s.ctx, cutoff)
	s.Require().NoError(err)
	s.EqualValues(0, deleted)

	n, err := s.store.Count(s.ctx, s.scope(), models.Filter{})
	s.Require().NoError(err)
	s.EqualValues(1, n)
}
