package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chronicle/internal/platform/middleware"
)

// NewRouter assembles the HTTP surface. Everything under /audit requires
// a bearer token except artifact downloads, where the download token is
// the credential; /admin additionally requires the admin role.
func NewRouter(h *Handler, auth *middleware.Authenticator, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestMetadata)

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/audit/exports/download/{token}", h.HandleDownload)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(auth, logger))

		r.Post("/audit/events", h.HandleIngest)
		r.Post("/audit/events/query", h.HandleQuery)
		r.Post("/audit/search", h.HandleSearch)
		r.Get("/audit/suggestions", h.HandleSuggestions)
		r.Post("/audit/facets", h.HandleFacets)
		r.Get("/audit/statistics", h.HandleStatistics)

		r.Post("/audit/exports", h.HandleExportRequest)
		r.Get("/audit/exports", h.HandleExportHistory)
		r.Get("/audit/exports/{exportID}", h.HandleExportStatus)
		r.Delete("/audit/exports/{exportID}", h.HandleExportCancel)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(logger))

			r.Post("/admin/compliance/retention/expire", h.HandleRetentionExpire)
			r.Post("/admin/compliance/actors/{actorID}/redact", h.HandleActorRedact)
			r.Delete("/admin/compliance/actors/{actorID}", h.HandleActorErase)
			r.Get("/admin/compliance/actors/{actorID}/export", h.HandleActorPortability)
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
