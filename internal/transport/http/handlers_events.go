// Package httptransport is the thin HTTP boundary of the audit engine.
// Handlers decode, parse domain primitives, call the service, and
// translate errors; tenant and actor identity always come from the
// verified token.
package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chronicle/internal/audit/compliance"
	"chronicle/internal/audit/export"
	"chronicle/internal/audit/ingest"
	"chronicle/internal/audit/query"
	"chronicle/internal/audit/search"
	"chronicle/internal/audit/stats"
	"chronicle/internal/platform/middleware"
	dErrors "chronicle/pkg/domainerrors"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/requestcontext"
)

// Handler wires the audit engine's services to their routes.
type Handler struct {
	ingest   *ingest.Service
	engine   *query.Engine
	search   *search.Service
	exports  *export.Orchestrator
	enforcer *compliance.Enforcer
	stats    *stats.Aggregator
	logger   *slog.Logger
}

// NewHandler constructs the handler with its dependencies.
func NewHandler(
	ingestService *ingest.Service,
	engine *query.Engine,
	searchService *search.Service,
	exports *export.Orchestrator,
	enforcer *compliance.Enforcer,
	aggregator *stats.Aggregator,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		ingest:   ingestService,
		engine:   engine,
		search:   searchService,
		exports:  exports,
		enforcer: enforcer,
		stats:    aggregator,
		logger:   logger,
	}
}

// identity fetches the authenticated caller, writing the error response
// itself when the middleware chain did not run.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return middleware.Identity{}, false
	}
	return id, true
}

// HandleIngest handles POST /audit/events.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[IngestRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	ingestReq := ingest.Request{
		TenantID:      caller.Tenant,
		ActorID:       caller.Actor,
		ActorName:     caller.ActorName,
		Action:        req.Action,
		ResourceType:  req.ResourceType,
		ResourceID:    req.ResourceID,
		Outcome:       req.parsedOutcome,
		Severity:      req.parsedSeverity,
		RequestData:   req.RequestData,
		ResponseData:  req.ResponseData,
		Metadata:      req.Metadata,
		CorrelationID: req.CorrelationID,
	}

	if req.Wait {
		id, err := h.ingest.LogSync(ctx, ingestReq)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, IngestResponse{
			EventID:       id.String(),
			CorrelationID: req.CorrelationID,
			Accepted:      true,
		})
		return
	}

	if _, err := h.ingest.Log(ctx, ingestReq); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, IngestResponse{
		CorrelationID: req.CorrelationID,
		Accepted:      true,
	})
}

// HandleQuery handles POST /audit/events/query.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[QueryRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	page, err := h.engine.Find(ctx, caller.Tenant, caller.Actor, req.ParsedFilter(), req.ParsedSort(), req.ParsedPage())
	if err != nil {
		h.logger.ErrorContext(ctx, "audit query failed",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", caller.Tenant.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleSearch handles POST /audit/search. Same contract as the query
// route plus match highlighting.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[QueryRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	page, err := h.search.Search(ctx, caller.Tenant, caller.Actor, req.ParsedFilter(), req.ParsedSort(), req.ParsedPage())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleSuggestions handles GET /audit/suggestions?q=term&limit=n.
func (h *Handler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be an integer"))
			return
		}
		limit = n
	}

	suggestions, err := h.search.Suggest(ctx, caller.Tenant, caller.Actor, r.URL.Query().Get("q"), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestions})
}

// HandleFacets handles POST /audit/facets.
func (h *Handler) HandleFacets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[FacetsRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	facets, err := h.search.Facets(ctx, caller.Tenant, caller.Actor, req.ParsedFilter())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, facets)
}

// HandleStatistics handles GET /audit/statistics.
func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}
	start := time.Now()

	result, err := h.stats.Statistics(ctx, caller.Tenant)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "statistics computed",
		"tenant_id", caller.Tenant.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}
