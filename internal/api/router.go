package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/katler/internal/api/auth"
	"github.com/good-yellow-bee/katler/internal/api/invites"
	"github.com/good-yellow-bee/katler/internal/api/middleware"
	"github.com/good-yellow-bee/katler/internal/api/profile"
	"github.com/good-yellow-bee/katler/internal/api/projects"
	"github.com/good-yellow-bee/katler/internal/api/views"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	jwtService := auth.NewJWTService(s.config.JWTSecret, s.config.JWTIssuer)

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.PrometheusMiddleware)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))

	// API v1 routes, all authenticated and bound to the caller's session
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(jwtService, s.logger))
		r.Use(middleware.RateLimitByUser(s.limiter))
		r.Use(middleware.Sessions(s.hub, s.logger))

		profileHandler := profile.NewHandler(s.logger)
		r.Get("/me", profileHandler.Me)
		r.Put("/me/username", profileHandler.SetUsername)

		r.Route("/projects", func(r chi.Router) {
			projectHandler := projects.NewHandler(s.logger)

			r.Get("/", projectHandler.List)
			r.Post("/", projectHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", projectHandler.Update)
				r.Post("/activate", projectHandler.Activate)
				r.Post("/messages", projectHandler.SendMessage)
				r.Get("/members", projectHandler.Members)
				r.Get("/entries", projectHandler.Entries)
				r.Post("/invites", projectHandler.Invite)
			})
		})

		r.Route("/invites", func(r chi.Router) {
			inviteHandler := invites.NewHandler(s.logger)
			r.Get("/", inviteHandler.List)
			r.Post("/{id}/respond", inviteHandler.Respond)
		})

		r.Route("/session", func(r chi.Router) {
			viewHandler := views.NewHandler(s.logger, s.config.SSEKeepalive)
			r.Get("/view", viewHandler.View)
			r.Get("/stream", viewHandler.Stream)
			r.Put("/tag", viewHandler.SetTagFilter)
			r.Put("/composer", viewHandler.SetComposerTag)
		})
	})

	// Health checks (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
