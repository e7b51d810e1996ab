package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
	})

	// Service-facing connection resolution (tenant token)
	r.Group(func(r chi.Router) {
		r.Use(s.tenantAuthMiddleware)
		r.Get("/resolve", s.HandleResolveConnection)
	})

	// Protected operator routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/auth/me", s.HandleGetCurrentUser)

		// Tenants
		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", s.HandleListTenants)
			r.Post("/", s.HandleCreateTenant)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetTenant)
				r.Put("/", s.HandleUpdateTenant)
				r.Delete("/", s.HandleDeleteTenant)

				// Database lifecycle
				r.Post("/provision", s.HandleProvisionTenant)
				r.Post("/deprovision", s.HandleDeprovisionTenant)
				r.Post("/repair", s.HandleRepairTenant)
				r.Get("/health", s.HandleTenantHealth)
				r.Get("/connection", s.HandleGetConnection)
				r.Post("/token", s.HandleIssueTenantToken)
				r.Post("/project", s.HandleGenerateProject)

				// Module associations
				r.Route("/modules", func(r chi.Router) {
					r.Get("/", s.HandleListTenantModules)
					r.Post("/{code}/enable", s.HandleEnableModule)
					r.Post("/{code}/disable", s.HandleDisableModule)
				})

				// Migrations
				r.Route("/migrations", func(r chi.Router) {
					r.Post("/", s.HandleApplyMigrations)
					r.Post("/pending", s.HandleApplyPendingMigrations)
					r.Post("/{code}", s.HandleApplyModuleMigrations)
					r.Get("/status", s.HandleMigrationStatus)
				})
			})
		})

		// Modules
		r.Route("/modules", func(r chi.Router) {
			r.Get("/", s.HandleListModules)
			r.Post("/", s.HandleCreateModule)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetModule)
				r.Put("/", s.HandleUpdateModule)
				r.Delete("/", s.HandleDeleteModule)
			})
		})

		// Plans
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", s.HandleListPlans)
			r.Post("/", s.HandleCreatePlan)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetPlan)
				r.Put("/", s.HandleUpdatePlan)
				r.Delete("/", s.HandleDeletePlan)
			})
		})

		// Event logs
		r.Get("/events", s.HandleListEvents)
	})
}
