package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"adversary-lab/internal/api/handlers"
	apimiddleware "adversary-lab/internal/api/middleware"
	"adversary-lab/internal/config"
	"adversary-lab/pkg/logger"
)

const requestTimeout = 60 * time.Second

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	limiter  apimiddleware.RateLimitStore
	logger   *logger.Logger
}

// NewRouter creates a new Router instance. A nil limiter disables rate
// limiting.
func NewRouter(cfg config.Config, h *handlers.Handlers, limiter apimiddleware.RateLimitStore, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		limiter:  limiter,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Health
	router.Get("/health", r.handlers.Health.Check)
	router.Get("/ready", r.handlers.Health.Ready)

	// Campaign event streams; long-lived so outside the request timeout
	router.Get("/ws/campaigns", r.handlers.Streaming.HandleWebSocket)
	router.Get("/stream/campaigns", r.handlers.Streaming.Events)

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(requestTimeout))
		if r.config.RateLimit.Enabled && r.limiter != nil {
			api.Use(apimiddleware.RateLimiter(r.limiter, r.config.RateLimit, r.logger))
		}

		// ATT&CK knowledge
		api.Route("/mitre", func(mitre chi.Router) {
			mitre.Get("/groups", r.handlers.MITRE.ListGroups)
			mitre.Get("/tactics", r.handlers.MITRE.ListTactics)
			mitre.Get("/techniques/{id}", r.handlers.MITRE.GetTechnique)
			mitre.Get("/stats", r.handlers.MITRE.Stats)
		})

		// Persona library
		api.Route("/personas", func(personas chi.Router) {
			personas.Get("/", r.handlers.Personas.List)
			personas.Get("/stats", r.handlers.Personas.Stats)
			personas.Get("/compare", r.handlers.Personas.Compare)
			personas.Get("/generated", r.handlers.Personas.Generated)
			personas.Post("/custom", r.handlers.Personas.CreateCustom)
			personas.Delete("/cache", r.handlers.Personas.ClearCache)
			personas.Get("/{name}", r.handlers.Personas.Get)
		})

		// Campaigns
		api.Route("/campaigns", func(campaigns chi.Router) {
			campaigns.Post("/", r.handlers.Campaigns.Create)
			campaigns.Get("/", r.handlers.Campaigns.List)
			campaigns.Get("/persona", r.handlers.Campaigns.CurrentPersona)
			campaigns.Get("/stats", r.handlers.Campaigns.Stats)
			campaigns.Get("/{id}", r.handlers.Campaigns.Get)
			campaigns.Get("/{id}/report", r.handlers.Campaigns.Report)
		})

		api.Get("/stream/stats", r.handlers.Streaming.GetStats)

		// Graph mirror
		if r.handlers.Graph != nil {
			api.Get("/graph/techniques/{id}/groups", r.handlers.Graph.GroupsUsingTechnique)
		}

		// Admin
		if token := r.config.Security.AdminToken; token != "" {
			api.Route("/admin", func(admin chi.Router) {
				admin.Use(apimiddleware.AdminAuth(token))
				admin.Post("/mitre/reload", r.handlers.Admin.ReloadMITRE)
				admin.Post("/personas/reload", r.handlers.Admin.ReloadPersonas)
			})
		}
	})

	return router
}
