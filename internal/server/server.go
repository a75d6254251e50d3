package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/edgefinder/internal/domain"
	"github.com/alanyoungcy/edgefinder/internal/metrics"
	"github.com/alanyoungcy/edgefinder/internal/server/handler"
	"github.com/alanyoungcy/edgefinder/internal/server/middleware"
	"github.com/alanyoungcy/edgefinder/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // guards write routes; empty refuses all writes
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health        *handler.HealthHandler
	Datasets      *handler.DatasetHandler
	Entitlements  *handler.EntitlementHandler
	Opportunities *handler.OpportunityHandler
	Pipeline      *handler.PipelineHandler
}

// Server is the HTTP + WebSocket API of edgefinder.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered. wsHub and limiter
// may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, wsHub, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	api := http.NewServeMux()

	// Datasets.
	api.HandleFunc("GET /api/datasets", handlers.Datasets.List)
	api.HandleFunc("GET /api/datasets/current", handlers.Datasets.Current)
	api.HandleFunc("GET /api/datasets/{id}", handlers.Datasets.Get)
	api.HandleFunc("GET /api/datasets/{id}/archive", handlers.Datasets.Archive)
	api.HandleFunc("GET /api/archives", handlers.Datasets.Archives)

	// Entitlements.
	api.HandleFunc("POST /api/entitlements", handlers.Entitlements.Grant)
	api.HandleFunc("GET /api/entitlements/{wallet}", handlers.Entitlements.Status)

	// Opportunities.
	api.HandleFunc("GET /api/opportunities/{id}/analytics", handlers.Opportunities.Analytics)
	api.HandleFunc("GET /api/opportunities/{id}/history", handlers.Opportunities.History)

	// Pipeline.
	api.HandleFunc("GET /api/pipeline/runs", handlers.Pipeline.ListRuns)
	api.HandleFunc("GET /api/pipeline/runs/{id}", handlers.Pipeline.GetRun)
	api.HandleFunc("POST /api/pipeline/trigger", handlers.Pipeline.TriggerPipeline)

	var apiHandler http.Handler = api
	apiHandler = middleware.AuthWrites(cfg.APIKey)(apiHandler)
	if limiter != nil && cfg.RateLimit > 0 {
		apiHandler = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(apiHandler)
	}
	mux.Handle("/api/", apiHandler)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = metrics.Middleware(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
