// internal/api/router.go
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fps-workflow/internal/common/auth"
	"fps-workflow/internal/common/logger"
)

// NewRouter assembles the HTTP surface. Liveness and metrics stay outside
// the identity check; everything under /api requires a verified caller.
func NewRouter(h *Handler, checker auth.IdentityChecker, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(checker, log))

		r.Route("/records", func(r chi.Router) {
			r.With(RequireAdmin(log)).Post("/", h.CreateRecord)
			r.Get("/{id}", h.GetRecord)
			r.Post("/{id}/steps/{step}", h.SubmitStep)
			r.With(RequireAdmin(log)).Post("/{id}/validate", h.ValidateRecord)
			r.Get("/{id}/helpers", h.ListHelpers)
		})

		r.Post("/scan/{recordID}/{userID}", h.MarkScanned)

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/read/{id}", h.MarkNotificationRead)
			r.Get("/{userID}", h.ListNotifications)
			r.Get("/{userID}/unread-count", h.UnreadCount)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/records/{id}/scans", h.RecordScanStats)
			r.Get("/scans", h.MonthlyScanStats)
		})
	})

	return r
}
