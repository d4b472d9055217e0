package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/uptotrial/uptotrial/internal/config"
	"github.com/uptotrial/uptotrial/internal/observability"
	"github.com/uptotrial/uptotrial/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// Aggregate health on the API path the original clients use, plus the
	// standard probe family.
	s.router.Get("/api/health", handlers.HealthHandler)
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	// Gated API surface. The business handler is supplied by the caller;
	// without one the route answers 501 so the seam stays visible.
	if s.api != nil {
		s.router.Mount("/api/v1/chat", s.api)
	} else {
		s.router.HandleFunc("/api/v1/chat", handlers.ChatPlaceholderHandler)
		s.router.HandleFunc("/api/v1/chat/*", handlers.ChatPlaceholderHandler)
	}

	// Admin signal endpoint (optional, requires UPTOTRIAL_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	adminToken := os.Getenv(config.EnvPrefix + "_ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + config.EnvPrefix + "_ADMIN_TOKEN set)")
		}
		return
	}

	// Create HTTP signal handler with bearer token auth and rate limiting
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
