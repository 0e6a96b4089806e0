package search

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit/models"
	"chronicle/internal/audit/query"
	"chronicle/internal/audit/store"
	"chronicle/internal/audit/store/memory"
	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
)

type SearchSuite struct {
	suite.Suite
	store   *memory.EventStore
	service *Service
	ctx     context.Context
	tenant  domain.TenantID
	actor   domain.ActorID
	base    time.Time
}

func (s *SearchSuite) SetupTest() {
	s.store = memory.NewEventStore()
	logger := slog.New(slog.DiscardHandler)
	s.service = NewService(query.NewEngine(s.store, logger), s.store, logger)
	s.ctx = context.Background()
	s.tenant = domain.TenantID(uuid.New())
	s.actor = domain.ActorID(uuid.New())
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestSearchSuite(t *testing.T) {
	suite.Run(t, new(SearchSuite))
}

func (s *SearchSuite) appendEvent(action, actorName string, outcome domain.Outcome) {
	_, err := s.store.Append(s.ctx, &models.Event{
		TenantID:  s.tenant,
		ActorID:   s.actor,
		ActorName: actorName,
		Action:    action,
		Outcome:   outcome,
		Severity:  domain.SeverityInfo,
		CreatedAt: s.base,
	})
	s.Require().NoError(err)
}

// TestHighlighting verifies markup lands on display fields only.
func (s *SearchSuite) TestHighlighting() {
	s.appendEvent("user.login", "Jane Operator", domain.OutcomeSuccess)

	s.Run("marks matched substrings preserving case", func() {
		result, err := s.service.Search(s.ctx, s.tenant, s.actor,
			models.Filter{Search: "LOGIN"}, models.DefaultSort(), models.DefaultPage())
		s.Require().NoError(err)
		s.Require().Len(result.Items, 1)

		hit := result.Items[0]
		s.Equal("user.<mark>login</mark>", hit.Highlights["action"])
		s.Contains(hit.Highlights["description"], "<mark>login</mark>")
	})

	s.Run("never highlights identifiers or contact fields", func() {
		result, err := s.service.Search(s.ctx, s.tenant, s.actor,
			models.Filter{Search: "login"}, models.DefaultSort(), models.DefaultPage())
		s.Require().NoError(err)
		s.Require().Len(result.Items, 1)

		hit := result.Items[0]
		s.NotContains(hit.Highlights, "actor_id")
		s.NotContains(hit.Highlights, "ip_address")
		s.NotContains(hit.Highlights, "correlation_id")
		// The raw entry stays unmarked.
		s.Equal("user.login", hit.Action)
	})

	s.Run("no term means no highlights", func() {
		result, err := s.service.Search(s.ctx, s.tenant, s.actor,
			models.Filter{}, models.DefaultSort(), models.DefaultPage())
		s.Require().NoError(err)
		s.Require().Len(result.Items, 1)
		s.Nil(result.Items[0].Highlights)
	})
}

// TestFacets verifies scoped counts and the drop-own-clause rule.
func (s *SearchSuite) TestFacets() {
	s.appendEvent("user.login", "Jane Operator", domain.OutcomeSuccess)
	s.appendEvent("user.login", "Jane Operator", domain.OutcomeFailure)
	s.appendEvent("user.logout", "Jane Operator", domain.OutcomeSuccess)

	s.Run("counts within scope", func() {
		facets, err := s.service.Facets(s.ctx, s.tenant, s.actor, models.Filter{})
		s.Require().NoError(err)

		s.Equal([]store.FacetItem{
			{Value: "user.login", Count: 2},
			{Value: "user.logout", Count: 1},
		}, facets.ActionTypes)
		s.Equal([]store.FacetItem{
			{Value: "success", Count: 2},
			{Value: "failure", Count: 1},
		}, facets.Outcomes)
	})

	s.Run("a selected action keeps sibling action counts", func() {
		facets, err := s.service.Facets(s.ctx, s.tenant, s.actor,
			models.Filter{ActionTypes: []string{"user.logout"}})
		s.Require().NoError(err)
		// Action facet ignores its own clause, outcome facet honors it.
		s.Len(facets.ActionTypes, 2)
		s.Equal([]store.FacetItem{{Value: "success", Count: 1}}, facets.Outcomes)
	})

	s.Run("requires a tenant", func() {
		_, err := s.service.Facets(s.ctx, domain.TenantID{}, s.actor, models.Filter{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("facets stay inside the tenant", func() {
		otherTenant := domain.TenantID(uuid.New())
		facets, err := s.service.Facets(s.ctx, otherTenant, s.actor, models.Filter{IncludeSystemActions: true})
		s.Require().NoError(err)
		s.Empty(facets.ActionTypes)
	})
}

// TestSuggestions verifies the merged typeahead list.
func (s *SearchSuite) TestSuggestions() {
	s.appendEvent("user.login", "Louise Admin", domain.OutcomeSuccess)
	s.appendEvent("user.logout", "Jane Operator", domain.OutcomeSuccess)
	s.appendEvent("export.requested", "Jane Operator", domain.OutcomeSuccess)

	s.Run("merges action types and actor names", func() {
		values, err := s.service.Suggest(s.ctx, s.tenant, s.actor, "lo", 10)
		s.Require().NoError(err)
		s.Equal([]string{"Louise Admin", "user.login", "user.logout"}, values)
	})

	s.Run("short input yields an empty list, not an error", func() {
		values, err := s.service.Suggest(s.ctx, s.tenant, s.actor, "l", 10)
		s.Require().NoError(err)
		s.Empty(values)

		values, err = s.service.Suggest(s.ctx, s.tenant, s.actor, "  ", 10)
		s.Require().NoError(err)
		s.Empty(values)
	})

	s.Run("honors the limit", func() {
		values, err := s.service.Suggest(s.ctx, s.tenant, s.actor, "lo", 2)
		s.Require().NoError(err)
		s.Len(values, 2)
	})
}

func TestHighlightFunc(t *testing.T) {
	tests := []struct {
		name  string
		value string
		term  string
		want  string
		ok    bool
	}{
		{"single match", "user.login", "login", "user.<mark>login</mark>", true},
		{"multiple matches", "go going gone", "go", "<mark>go</mark> <mark>go</mark>ing <mark>go</mark>ne", true},
		{"case preserved", "User.Login", "login", "User.<mark>Login</mark>", true},
		{"no match", "user.login", "export", "", false},
		{"empty value", "", "term", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := highlight(tt.value, tt.term)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
