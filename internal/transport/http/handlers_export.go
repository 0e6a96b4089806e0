package httptransport

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"chronicle/internal/audit/models"
	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
	"chronicle/pkg/platform/httputil"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/requestcontext"
)

// HandleExportRequest handles POST /audit/exports.
func (h *Handler) HandleExportRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	req, ok := httputil.Decode[ExportRequest](w, r, h.logger, ctx)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	job, err := h.exports.Request(ctx, caller.Tenant, caller.Actor, req.ParsedFormat(), req.ParsedFilter())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "export requested",
		"request_id", requestcontext.RequestID(ctx),
		"export_id", job.ID.String(),
		"format", job.Format.String(),
	)
	httputil.WriteJSON(w, http.StatusAccepted, FromExportJob(job))
}

// HandleExportStatus handles GET /audit/exports/{exportID}.
func (h *Handler) HandleExportStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	id, err := domain.ParseExportID(chi.URLParam(r, "exportID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	job, err := h.exports.Status(ctx, caller.Actor, id)
	if err != nil {
		httputil.WriteError(w, translateNotFound(err, "export job not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromExportJob(job))
}

// HandleExportCancel handles DELETE /audit/exports/{exportID}.
func (h *Handler) HandleExportCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	id, err := domain.ParseExportID(chi.URLParam(r, "exportID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.exports.Cancel(ctx, caller.Actor, id); err != nil {
		httputil.WriteError(w, translateNotFound(err, "export job not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleExportHistory handles GET /audit/exports?page=n&size=m.
func (h *Handler) HandleExportHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.identity(w, r)
	if !ok {
		return
	}

	page, ok := h.pageParams(w, r)
	if !ok {
		return
	}

	jobs, err := h.exports.History(ctx, caller.Actor, page)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.MapPage(jobs, func(job models.ExportJob) ExportJobResponse {
		return FromExportJob(&job)
	}))
}

// HandleDownload handles GET /audit/exports/download/{token}. The token
// is the credential; the route runs outside the bearer-auth chain so the
// artifact can be fetched by tooling that never held a session.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")

	artifact, err := h.exports.Download(ctx, token)
	if err != nil {
		httputil.WriteError(w, translateDownloadErr(err))
		return
	}

	h.logger.InfoContext(ctx, "export artifact served",
		"request_id", requestcontext.RequestID(ctx),
		"file", artifact.FileName,
	)
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+artifact.FileName+`"`)
	http.ServeFile(w, r, artifact.Path)
}

// pageParams parses the page/size query parameters, writing the error
// response on malformed input.
func (h *Handler) pageParams(w http.ResponseWriter, r *http.Request) (models.PageRequest, bool) {
	page := models.PageRequest{}
	for name, target := range map[string]*int{"page": &page.Page, "size": &page.Size} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, name+" must be an integer"))
			return models.PageRequest{}, false
		}
		*target = n
	}
	return page, true
}

// translateNotFound maps the store's not-found sentinel onto a coded
// domain error with a route-appropriate message.
func translateNotFound(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, msg)
	}
	return err
}

// translateDownloadErr keeps the three download failure modes
// distinguishable on the wire without leaking whether a token ever
// existed beyond what each condition requires.
func translateDownloadErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.New(dErrors.CodeForbidden, "download link has expired")
	case errors.Is(err, sentinel.ErrExhausted):
		return dErrors.New(dErrors.CodeForbidden, "download limit reached")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeConflict, "export is not ready for download")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "unknown download token")
	default:
		return err
	}
}
