package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ignite/leadflow/internal/pkg/httputil"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Organization-ID"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health checks (no org required)
	r.Get("/health", h.HealthCheck)
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/operators", h.GetOperators)

		r.Route("/segments", func(r chi.Router) {
			r.Post("/recompute", h.RecomputeSegments)
			r.Route("/{segmentID}", func(r chi.Router) {
				r.Get("/evaluate", h.EvaluateSegment)
				r.Post("/refresh", h.RefreshSegment)
				r.Get("/leads", h.GetSegmentLeads)
				r.Post("/members", h.AddSegmentMembers)
				r.Delete("/members", h.RemoveSegmentMembers)
			})
		})

		r.Get("/leads/{leadID}/segments", h.GetLeadSegments)

		r.Post("/events", h.IngestEvent)

		r.Route("/automations", func(r chi.Router) {
			r.Get("/runs", h.ListRuns)
			r.Get("/runs/{runID}", h.GetRun)
			r.Post("/{automationID}/trigger", h.TriggerAutomation)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/", h.EnqueueTask)
			r.Post("/process", h.ProcessDueTasks)
			r.Get("/{taskID}", h.GetTask)
		})

		r.Get("/ledger/{subjectID}", h.GetLedgerEntries)

		r.Get("/users/{userID}/notifications", h.GetNotifications)
		r.Get("/users/{userID}/notifications/stream", h.StreamNotifications)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "not found")
	})

	return r
}
