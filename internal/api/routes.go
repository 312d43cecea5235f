package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ignite/mailpipe/internal/pkg/httputil"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Organization-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", s.health.HandleHealth)
	r.Get("/health/live", s.health.HandleLiveness)
	r.Get("/health/ready", s.health.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RequireOrgMiddleware)

			r.Post("/campaigns", s.handleCreateCampaign)
			r.Get("/campaigns/{id}", s.handleGetCampaign)
			r.Post("/campaigns/{id}/queue", s.handleQueueCampaign)
			r.Post("/campaigns/{id}/send-batch", s.handleSendBatch)
			r.Get("/campaigns/{id}/status", s.handleCampaignStatus)
			r.Post("/campaigns/{id}/pause", s.handlePauseCampaign)
			r.Post("/campaigns/{id}/resume", s.handleResumeCampaign)

			if s.deps.Suppression != nil {
				r.Get("/suppressions/check", s.handleCheckSuppression)
				r.Post("/suppressions", s.handleSuppress)
				r.Delete("/suppressions", s.handleRemoveSuppression)
				r.Post("/unsubscribes", s.handleUnsubscribe)
			}
		})

		if s.deps.Coordinators != nil {
			r.Route("/admin/coordinators/{orgID}", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/start", s.handleStartCoordinator)
				r.Post("/stop", s.handleStopCoordinator)
				r.Get("/status", s.handleCoordinatorStatus)
			})
		}
	})

	return r
}

// requireAdmin checks the bearer token against the configured admin
// token. Admin routes are closed when no token is configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminToken == "" {
			httputil.Forbidden(w, "admin access disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
			httputil.Unauthorized(w, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
