package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pierregrothe/graphrag-api-sub000/internal/api/handlers"
	"github.com/pierregrothe/graphrag-api-sub000/internal/api/middleware"
	"github.com/pierregrothe/graphrag-api-sub000/internal/service"
)

func NewRouter(services *service.Services) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.CORS)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	authHandler := handlers.NewAuthHandler(services.Auth)
	keyHandler := handlers.NewAPIKeyHandler(services.APIKey)
	adminHandler := handlers.NewAdminHandler(services.Auth)
	auditHandler := handlers.NewAuditStreamHandler(services.Audit)

	r.Route("/auth", func(r chi.Router) {
		// Public routes
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(services.Token, services.APIKey))

			r.Get("/me", authHandler.Me)

			// Session and key management need an interactive user, not a key.
			r.Group(func(r chi.Router) {
				r.Use(middleware.UsersOnly)

				r.Post("/logout", authHandler.Logout)

				r.Route("/api-keys", func(r chi.Router) {
					r.Post("/", keyHandler.Create)
					r.Get("/", keyHandler.List)
					r.Delete("/{id}", keyHandler.Revoke)
					r.Post("/{id}/rotate", keyHandler.Rotate)
				})
			})

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(services.Authz, "user", "deactivate"))
				r.Post("/users/{id}/deactivate", adminHandler.DeactivateUser)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(services.Authz, "audit", "read"))
				r.Get("/audit/stream", auditHandler.Stream)
			})
		})
	})

	return r
}
