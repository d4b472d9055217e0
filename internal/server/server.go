package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/uptotrial/uptotrial/internal/errors"
	"github.com/uptotrial/uptotrial/internal/gate"
	"github.com/uptotrial/uptotrial/internal/observability"
	"github.com/uptotrial/uptotrial/internal/server/handlers"
	servermw "github.com/uptotrial/uptotrial/internal/server/middleware"
)

// operationalPaths are always exempt from the mandatory correlation header
// so probes and scrapers work without gate credentials. They merge with the
// configured exempt set; the limiter still counts them.
var operationalPaths = []string{
	"/health",
	"/health/live",
	"/health/ready",
	"/health/startup",
	"/version",
	"/metrics",
	"/admin/signal",
}

// Options wires the gate core into the HTTP server.
type Options struct {
	Host string
	Port int

	CorrelationHeader string
	ExemptPaths       []string

	Limiter *gate.Limiter
	Stats   *gate.StatsAggregator

	// API, when set, is mounted under /api/v1/chat behind the full gate
	// chain. A nil API leaves a NOT_IMPLEMENTED placeholder on the route.
	API http.Handler
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	host     string
	port     int
	resolver *gate.Resolver
	api      http.Handler
}

// New creates a new HTTP server instance with the gate chain installed
func New(opts Options) *Server {
	r := chi.NewRouter()

	exempt := append([]string{}, opts.ExemptPaths...)
	exempt = append(exempt, operationalPaths...)
	resolver := gate.NewResolver(opts.CorrelationHeader, exempt)

	// Standard chi middleware
	r.Use(middleware.RealIP)

	// Gate chain: correlation first so every later stage has an id, then
	// metrics around the limiter so denials show up in request metrics.
	r.Use(servermw.Correlation(resolver))
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.RateLimit(opts.Limiter, opts.Stats))
	r.Use(servermw.Recovery)

	// Standardized error responses using centralized HandleError
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:   r,
		host:     opts.Host,
		port:     opts.Port,
		resolver: resolver,
		api:      opts.API,
	}

	// Ensure handlers use the centralized error responder
	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	observability.ServerLogger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
