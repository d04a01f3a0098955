package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/dispatch-auth/internal/auth"
)

// healthCheckTimeout bounds each dependency probe made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(metricsMiddleware)

	// Unauthenticated operational endpoints
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.With(s.OptionalAuth).Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.RequireAuth)

				r.Get("/me", s.handleMe)
				r.Put("/password", s.handleChangePassword)
				r.Put("/preferences", s.handleUpdatePreferences)
				r.Get("/sessions", s.handleListSessions)
				r.Delete("/sessions/{id}", s.handleRevokeSession)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.RequireAuth)

			r.With(RequireRole(auth.AdminOnly...)).Get("/users", s.handleListUsers)
			r.With(RequireRole(auth.AdminOnly...)).Put("/users/{id}/active", s.handleSetUserActive)
			r.With(RequireRole(auth.AuditReaders...)).Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth returns the server health status and the state of each
// registered dependency. Any failing dependency turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(s.checks))

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", "component", name, "error", err)
			components[name] = "unavailable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	body := map[string]any{
		"status":  status,
		"version": s.version,
	}
	if len(components) > 0 {
		body["components"] = components
	}
	writeJSON(w, code, body)
}
