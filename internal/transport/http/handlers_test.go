package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit/compliance"
	"chronicle/internal/audit/export"
	"chronicle/internal/audit/ingest"
	"chronicle/internal/audit/models"
	"chronicle/internal/audit/query"
	"chronicle/internal/audit/search"
	"chronicle/internal/audit/stats"
	"chronicle/internal/audit/store/memory"
	"chronicle/internal/platform/middleware"
	"chronicle/pkg/domain"
)

const testSigningKey = "transport-test-signing-key"

// Shared across tests; promauto registers in the global registry and a
// second registration would panic.
var (
	ingestMetrics     *ingest.Metrics
	exportMetrics     *export.Metrics
	complianceMetrics *compliance.Metrics
	metricsOnce       sync.Once
)

func sharedMetrics() (*ingest.Metrics, *export.Metrics, *compliance.Metrics) {
	metricsOnce.Do(func() {
		ingestMetrics = ingest.NewMetrics()
		exportMetrics = export.NewMetrics()
		complianceMetrics = compliance.NewMetrics()
	})
	return ingestMetrics, exportMetrics, complianceMetrics
}

type TransportSuite struct {
	suite.Suite
	events  *memory.EventStore
	ingest  *ingest.Service
	exports *export.Orchestrator
	server  *httptest.Server
	ctx     context.Context
	tenant  domain.TenantID
	actor   domain.ActorID
}

func (s *TransportSuite) SetupTest() {
	logger := slog.New(slog.DiscardHandler)
	im, em, cm := sharedMetrics()

	s.events = memory.NewEventStore()
	exportStore := memory.NewExportStore()
	s.ctx = context.Background()
	s.tenant = domain.TenantID(uuid.New())
	s.actor = domain.ActorID(uuid.New())

	s.ingest = ingest.New(s.events, nil, im, logger, ingest.Config{Workers: 2, QueueSize: 64})
	engine := query.NewEngine(s.events, logger)
	searchService := search.NewService(engine, s.events, logger)
	s.exports = export.NewOrchestrator(exportStore, engine, nil, em, logger, export.Config{
		Dir:         s.T().TempDir(),
		DownloadTTL: time.Hour,
	})
	enforcer := compliance.NewEnforcer(s.events, s.ingest, cm, logger, compliance.Config{
		SystemTenant: domain.TenantID(uuid.New()),
	})
	aggregator := stats.NewAggregator(s.events, logger)

	handler := NewHandler(s.ingest, engine, searchService, s.exports, enforcer, aggregator, logger)
	router := NewRouter(handler, middleware.NewAuthenticator(testSigningKey), logger)
	s.server = httptest.NewServer(router)
}

func (s *TransportSuite) TearDownTest() {
	s.server.Close()
	_ = s.exports.Close(context.Background())
	_ = s.ingest.Close(context.Background())
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

func (s *TransportSuite) token(tenant domain.TenantID, actor domain.ActorID, name string, admin bool) string {
	claims := jwt.MapClaims{
		"tenant_id": tenant.String(),
		"sub":       actor.String(),
		"name":      name,
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
	if admin {
		claims["roles"] = []string{"admin"}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	s.Require().NoError(err)
	return signed
}

func (s *TransportSuite) do(method, path, token string, body any) *http.Response {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

func decodeBody[T any](s *TransportSuite, resp *http.Response) T {
	defer resp.Body.Close()
	var out T
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *TransportSuite) seedEvent(action, actorName string) {
	_, err := s.events.Append(s.ctx, &models.Event{
		TenantID:  s.tenant,
		ActorID:   s.actor,
		ActorName: actorName,
		Action:    action,
		Outcome:   domain.OutcomeSuccess,
		Severity:  domain.SeverityInfo,
		CreatedAt: time.Now(),
	})
	s.Require().NoError(err)
}

// TestAuthBoundary verifies the bearer-token and admin-role gates.
func (s *TransportSuite) TestAuthBoundary() {
	s.Run("rejects a missing token", func() {
		resp := s.do(http.MethodGet, "/audit/statistics", "", nil)
		defer resp.Body.Close()
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("rejects a token signed with the wrong key", func() {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"tenant_id": s.tenant.String(),
			"sub":       s.actor.String(),
		}).SignedString([]byte("some-other-key"))
		s.Require().NoError(err)

		resp := s.do(http.MethodGet, "/audit/statistics", forged, nil)
		defer resp.Body.Close()
		s.Equal(http.StatusUnauthorized, resp.StatusCode)
	})

	s.Run("accepts a valid token", func() {
		resp := s.do(http.MethodGet, "/audit/statistics", s.token(s.tenant, s.actor, "Jane", false), nil)
		defer resp.Body.Close()
		s.Equal(http.StatusOK, resp.StatusCode)
	})

	s.Run("admin routes refuse non-admin callers", func() {
		resp := s.do(http.MethodPost, "/admin/compliance/retention/expire", s.token(s.tenant, s.actor, "Jane", false), nil)
		defer resp.Body.Close()
		s.Equal(http.StatusForbidden, resp.StatusCode)
	})

	s.Run("health and metrics stay open", func() {
		for _, path := range []string{"/healthz", "/metrics"} {
			resp := s.do(http.MethodGet, path, "", nil)
			resp.Body.Close()
			s.Equal(http.StatusOK, resp.StatusCode, path)
		}
	})
}

// TestIngestAndQuery verifies the write path and the scoped read path end
// to end.
func (s *TransportSuite) TestIngestAndQuery() {
	token := s.token(s.tenant, s.actor, "Jane Operator", false)

	s.Run("synchronous ingest returns the persisted id", func() {
		resp := s.do(http.MethodPost, "/audit/events", token, map[string]any{
			"action":       "user.login",
			"outcome":      "success",
			"request_data": map[string]any{"contact_email": "jane@example.com"},
			"wait":         true,
		})
		s.Equal(http.StatusCreated, resp.StatusCode)
		body := decodeBody[IngestResponse](s, resp)
		s.True(body.Accepted)
		s.NotEmpty(body.EventID)
	})

	s.Run("asynchronous ingest is accepted", func() {
		resp := s.do(http.MethodPost, "/audit/events", token, map[string]any{
			"action": "user.logout",
		})
		defer resp.Body.Close()
		s.Equal(http.StatusAccepted, resp.StatusCode)
	})

	s.Run("missing action is a validation error", func() {
		resp := s.do(http.MethodPost, "/audit/events", token, map[string]any{
			"outcome": "success",
		})
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("unknown outcome is a validation error", func() {
		resp := s.do(http.MethodPost, "/audit/events", token, map[string]any{
			"action":  "user.login",
			"outcome": "sideways",
		})
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("query returns the caller's events with payloads redacted upstream", func() {
		resp := s.do(http.MethodPost, "/audit/events/query", token, map[string]any{
			"filter": map[string]any{"action_types": []string{"user.login"}},
			"size":   10,
		})
		s.Equal(http.StatusOK, resp.StatusCode)
		page := decodeBody[models.Page[models.Entry]](s, resp)
		s.Require().Len(page.Items, 1)
		s.Equal("user.login", page.Items[0].Action)
		s.Equal("Jane Operator", page.Items[0].ActorName)
	})

	s.Run("another tenant's token sees nothing", func() {
		other := s.token(domain.TenantID(uuid.New()), s.actor, "Jane", false)
		resp := s.do(http.MethodPost, "/audit/events/query", other, map[string]any{"size": 10})
		s.Equal(http.StatusOK, resp.StatusCode)
		page := decodeBody[models.Page[models.Entry]](s, resp)
		s.Empty(page.Items)
	})

	s.Run("unlisted sort field is rejected", func() {
		resp := s.do(http.MethodPost, "/audit/events/query", token, map[string]any{
			"sort_field": "ip_address",
		})
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})
}

// TestSearchRoutes verifies highlighting, facets, and suggestions.
func (s *TransportSuite) TestSearchRoutes() {
	s.seedEvent("user.login", "Jane Operator")
	s.seedEvent("user.logout", "Jane Operator")
	token := s.token(s.tenant, s.actor, "Jane Operator", false)

	s.Run("search highlights matches", func() {
		resp := s.do(http.MethodPost, "/audit/search", token, map[string]any{
			"filter": map[string]any{"search": "login"},
		})
		s.Equal(http.StatusOK, resp.StatusCode)
		page := decodeBody[models.Page[search.Result]](s, resp)
		s.Require().Len(page.Items, 1)
		s.Contains(page.Items[0].Highlights["action"], "<mark>login</mark>")
	})

	s.Run("facets count by action and outcome", func() {
		resp := s.do(http.MethodPost, "/audit/facets", token, map[string]any{})
		s.Equal(http.StatusOK, resp.StatusCode)
		facets := decodeBody[search.Facets](s, resp)
		s.Len(facets.ActionTypes, 2)
	})

	s.Run("suggestions merge actions and actor names", func() {
		resp := s.do(http.MethodGet, "/audit/suggestions?q=log", token, nil)
		s.Equal(http.StatusOK, resp.StatusCode)
		body := decodeBody[map[string][]string](s, resp)
		s.Contains(body["suggestions"], "user.login")
		s.Contains(body["suggestions"], "user.logout")
	})
}

// TestExportRoutes verifies the export lifecycle over HTTP.
func (s *TransportSuite) TestExportRoutes() {
	for i := 0; i < 3; i++ {
		s.seedEvent(fmt.Sprintf("user.action.%d", i), "Jane Operator")
	}
	token := s.token(s.tenant, s.actor, "Jane Operator", false)

	resp := s.do(http.MethodPost, "/audit/exports", token, map[string]any{"format": "csv"})
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)
	job := decodeBody[ExportJobResponse](s, resp)
	s.Equal("CSV", job.Format)

	var final ExportJobResponse
	s.Require().Eventually(func() bool {
		resp := s.do(http.MethodGet, "/audit/exports/"+job.ID, token, nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		final = decodeBody[ExportJobResponse](s, resp)
		return final.Status == "completed" || final.Status == "failed"
	}, 5*time.Second, 20*time.Millisecond)

	s.Require().Equal("completed", final.Status)
	s.Equal(100, final.ProgressPercentage)
	s.Require().NotEmpty(final.DownloadToken)

	s.Run("download serves the artifact without a bearer token", func() {
		resp := s.do(http.MethodGet, "/audit/exports/download/"+final.DownloadToken, "", nil)
		defer resp.Body.Close()
		s.Equal(http.StatusOK, resp.StatusCode)
		s.Equal("text/csv", resp.Header.Get("Content-Type"))
		s.Contains(resp.Header.Get("Content-Disposition"), ".csv")

		data, err := io.ReadAll(resp.Body)
		s.Require().NoError(err)
		s.Equal(4, strings.Count(strings.TrimSpace(string(data)), "\n")+1) // header + 3 rows
	})

	s.Run("unknown token is 404", func() {
		resp := s.do(http.MethodGet, "/audit/exports/download/"+strings.Repeat("x", 32), "", nil)
		defer resp.Body.Close()
		s.Equal(http.StatusNotFound, resp.StatusCode)
	})

	s.Run("history lists the job", func() {
		resp := s.do(http.MethodGet, "/audit/exports?page=0&size=10", token, nil)
		s.Equal(http.StatusOK, resp.StatusCode)
		page := decodeBody[models.Page[ExportJobResponse]](s, resp)
		s.Require().Len(page.Items, 1)
		s.Equal(job.ID, page.Items[0].ID)
	})

	s.Run("another actor cannot see the job", func() {
		stranger := s.token(s.tenant, domain.ActorID(uuid.New()), "Stranger", false)
		resp := s.do(http.MethodGet, "/audit/exports/"+job.ID, stranger, nil)
		defer resp.Body.Close()
		s.Equal(http.StatusNotFound, resp.StatusCode)
	})

	s.Run("cancelling a finished job conflicts", func() {
		resp := s.do(http.MethodDelete, "/audit/exports/"+job.ID, token, nil)
		defer resp.Body.Close()
		s.Equal(http.StatusConflict, resp.StatusCode)
	})

	s.Run("unknown format is rejected", func() {
		resp := s.do(http.MethodPost, "/audit/exports", token, map[string]any{"format": "xml"})
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})
}

// TestComplianceRoutes verifies the admin compliance surface.
func (s *TransportSuite) TestComplianceRoutes() {
	s.seedEvent("user.login", "Jane Operator")
	s.seedEvent("user.login", "Jane Operator")
	admin := s.token(s.tenant, domain.ActorID(uuid.New()), "Admin", true)

	s.Run("redact reports the affected count", func() {
		resp := s.do(http.MethodPost, "/admin/compliance/actors/"+s.actor.String()+"/redact", admin, nil)
		s.Equal(http.StatusOK, resp.StatusCode)
		body := decodeBody[ComplianceCountResponse](s, resp)
		s.EqualValues(2, body.Affected)
	})

	s.Run("portability export returns the redacted records", func() {
		resp := s.do(http.MethodGet, "/admin/compliance/actors/"+s.actor.String()+"/export", admin, nil)
		s.Equal(http.StatusOK, resp.StatusCode)
		body := decodeBody[PortabilityResponse](s, resp)
		s.Len(body.Records, 2)
		s.Equal("[REDACTED]", body.Records[0].ActorName)
	})

	s.Run("erase removes the records", func() {
		resp := s.do(http.MethodDelete, "/admin/compliance/actors/"+s.actor.String(), admin, nil)
		s.Equal(http.StatusOK, resp.StatusCode)
		body := decodeBody[ComplianceCountResponse](s, resp)
		s.EqualValues(2, body.Affected)
	})

	s.Run("retention expire accepts an explicit window", func() {
		resp := s.do(http.MethodPost, "/admin/compliance/retention/expire", admin, ExpireRequest{RetentionDays: 30})
		s.Equal(http.StatusOK, resp.StatusCode)
		body := decodeBody[ComplianceCountResponse](s, resp)
		s.Zero(body.Affected)
	})

	s.Run("malformed actor id is a bad request", func() {
		resp := s.do(http.MethodPost, "/admin/compliance/actors/not-a-uuid/redact", admin, nil)
		defer resp.Body.Close()
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})
}
