package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/requestcontext"
)

// Compliance routes are admin-only; the router mounts them behind
// RequireAdmin.

// HandleRetentionExpire handles POST /admin/compliance/retention/expire.
func (h *Handler) HandleRetentionExpire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// An empty body selects the configured default window.
	var req ExpireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}
	days := req.RetentionDays
	if days <= 0 {
		days = h.enforcer.RetentionDays()
	}
	start := time.Now()

	deleted, err := h.enforcer.ExpireOlderThan(ctx, days)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "retention expiry triggered",
		"request_id", requestcontext.RequestID(ctx),
		"retention_days", days,
		"deleted", deleted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, ComplianceCountResponse{Affected: deleted})
}

// HandleActorRedact handles POST /admin/compliance/actors/{actorID}/redact.
func (h *Handler) HandleActorRedact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := domain.ParseActorID(chi.URLParam(r, "actorID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	affected, err := h.enforcer.RedactActorData(ctx, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ComplianceCountResponse{Affected: affected})
}

// HandleActorErase handles DELETE /admin/compliance/actors/{actorID}.
func (h *Handler) HandleActorErase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := domain.ParseActorID(chi.URLParam(r, "actorID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	deleted, err := h.enforcer.EraseActorData(ctx, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ComplianceCountResponse{Affected: deleted})
}

// HandleActorPortability handles GET /admin/compliance/actors/{actorID}/export.
func (h *Handler) HandleActorPortability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := domain.ParseActorID(chi.URLParam(r, "actorID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.enforcer.ExportActorData(ctx, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PortabilityResponse{
		ActorID: actor.String(),
		Records: records,
	})
}
