package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/mkale/inboxtriage/internal/api/middleware"
	"github.com/mkale/inboxtriage/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	IngestHandler      http.HandlerFunc
	GetEmailHandler    http.HandlerFunc
	EnrichOneHandler   http.HandlerFunc
	EnrichBatchHandler http.HandlerFunc

	ListStagesHandler   http.HandlerFunc
	SuspendStageHandler http.HandlerFunc
	ResumeStageHandler  http.HandlerFunc

	ListJobsHandler http.HandlerFunc
	GetJobHandler   http.HandlerFunc

	ListAlertsHandler   http.HandlerFunc
	ResolveAlertHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/ingest", orNotImplemented(deps.IngestHandler))

		r.Get("/api/v1/emails/{emailID}", orNotImplemented(deps.GetEmailHandler))
		r.Post("/api/v1/emails/{emailID}/enrich", orNotImplemented(deps.EnrichOneHandler))
		r.Post("/api/v1/enrich/batch", orNotImplemented(deps.EnrichBatchHandler))

		r.Get("/api/v1/stages", orNotImplemented(deps.ListStagesHandler))
		r.Post("/api/v1/stages/{stage}/suspend", orNotImplemented(deps.SuspendStageHandler))
		r.Post("/api/v1/stages/{stage}/resume", orNotImplemented(deps.ResumeStageHandler))

		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))

		r.Get("/api/v1/alerts", orNotImplemented(deps.ListAlertsHandler))
		r.Post("/api/v1/alerts/{alertID}/resolve", orNotImplemented(deps.ResolveAlertHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
