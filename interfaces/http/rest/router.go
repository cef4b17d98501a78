// Package rest wires the HTTP surface: routing, middleware, and the
// mapping from routes to dispatcher commands.
package rest

import (
	"net/http"

	"acs-backend/application/commands/bus"
	"acs-backend/application/services"
	"acs-backend/infrastructure/config"
	"acs-backend/infrastructure/persistence"
	"acs-backend/infrastructure/resilience"
	"acs-backend/interfaces/http/rest/handlers"
	"acs-backend/interfaces/http/rest/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router creates and configures the HTTP router
type Router struct {
	cfg        *config.Config
	dispatcher *bus.Dispatcher
	evaluator  *services.Evaluator
	health     *resilience.HealthMonitor
	dlq        *persistence.DeadLetterQueue
	registry   *prometheus.Registry
	logger     *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	cfg *config.Config,
	dispatcher *bus.Dispatcher,
	evaluator *services.Evaluator,
	health *resilience.HealthMonitor,
	dlq *persistence.DeadLetterQueue,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *Router {
	return &Router{
		cfg:        cfg,
		dispatcher: dispatcher,
		evaluator:  evaluator,
		health:     health,
		dlq:        dlq,
		registry:   registry,
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	if rt.cfg.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	adminHandler := handlers.NewAdminHandler(rt.health, rt.dlq, rt.logger)
	router.Get("/health", adminHandler.Health)
	if rt.cfg.EnableMetrics {
		router.Method("GET", "/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.cfg.JWTSecret, rt.cfg.JWTIssuer, rt.logger))

		entityHandler := handlers.NewEntityHandler(rt.dispatcher, rt.logger)
		permHandler := handlers.NewPermissionHandler(rt.dispatcher, rt.logger)
		reportHandler := handlers.NewReportHandler(rt.dispatcher, rt.evaluator, rt.logger)

		r.Route("/users", func(r chi.Router) {
			r.Post("/", entityHandler.CreateUser)
			r.Get("/{id}", entityHandler.GetUser)
			r.Put("/{id}", entityHandler.UpdateUser)
			r.Delete("/{id}", entityHandler.DeleteUser)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", entityHandler.CreateGroup)
			r.Get("/{id}", entityHandler.GetGroup)
			r.Put("/{id}", entityHandler.UpdateGroup)
			r.Delete("/{id}", entityHandler.DeleteGroup)

			r.Put("/{id}/users/{userID}", entityHandler.AddUserToGroup)
			r.Delete("/{id}/users/{userID}", entityHandler.RemoveUserFromGroup)
			r.Put("/{id}/roles/{roleID}", entityHandler.AddRoleToGroup)
			r.Delete("/{id}/roles/{roleID}", entityHandler.RemoveRoleFromGroup)
			r.Put("/{id}/groups/{childID}", entityHandler.AddGroupToGroup)
			r.Delete("/{id}/groups/{childID}", entityHandler.RemoveGroupFromGroup)
		})

		r.Route("/roles", func(r chi.Router) {
			r.Post("/", entityHandler.CreateRole)
			r.Get("/{id}", entityHandler.GetRole)
			r.Put("/{id}", entityHandler.UpdateRole)
			r.Delete("/{id}", entityHandler.DeleteRole)

			r.Put("/{id}/users/{userID}", entityHandler.AssignUserToRole)
			r.Delete("/{id}/users/{userID}", entityHandler.UnassignUserFromRole)
		})

		r.Route("/entities/{id}", func(r chi.Router) {
			r.Post("/permissions", permHandler.AddPermission)
			r.Delete("/permissions", permHandler.RemovePermission)
			r.Get("/effective-permissions", reportHandler.EffectivePermissions)
			r.Get("/conflicts", reportHandler.Conflicts)
			r.Get("/trace", reportHandler.Trace)
			r.Post("/gaps", reportHandler.Gaps)
		})

		r.Post("/check", permHandler.Check)
		r.Post("/reports/matrix", reportHandler.Matrix)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/dead-letters", adminHandler.DeadLetters)
			r.Post("/dead-letters/retry", adminHandler.RetryDeadLetters)
		})
	})

	return router
}
