// Package server is the HTTP and WebSocket surface of the settlement
// service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/metrics"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/server/handler"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/server/middleware"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKeys     []string // if empty, authentication is disabled
	// RateLimit caps POST /api/settlements per client per minute; zero
	// disables it.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Settlements *handler.SettlementHandler
	Derive      *handler.DeriveHandler
	Snapshots   *handler.SnapshotHandler
	Audit       *handler.AuditHandler
}

// Options carries the optional collaborators of the server.
type Options struct {
	Hub     *ws.Hub
	Limiter domain.RateLimiter
	Metrics *metrics.Metrics
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (metrics, logging, CORS, auth) and attaches the
// WebSocket hub.
func NewServer(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	h := NewHandler(cfg, handlers, opts, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// NewHandler builds the routed and middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.InitializeMarket)
	mux.HandleFunc("GET /api/markets/{address}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{address}/positions/{user}", handlers.Markets.GetPosition)

	// Settlement endpoints.
	settle := middleware.RateLimit(opts.Limiter, "settlements", cfg.RateLimit, time.Minute)(
		http.HandlerFunc(handlers.Settlements.Settle))
	mux.Handle("POST /api/settlements", settle)
	mux.HandleFunc("GET /api/settlements", handlers.Settlements.ListRecent)

	// Derivation endpoints.
	mux.HandleFunc("GET /api/derive/vault", handlers.Derive.Vault)
	mux.HandleFunc("GET /api/derive/position", handlers.Derive.Position)

	// Snapshot endpoints.
	mux.HandleFunc("POST /api/snapshots", handlers.Snapshots.Trigger)
	mux.HandleFunc("GET /api/snapshots", handlers.Snapshots.List)
	mux.HandleFunc("GET /api/snapshots/{name}", handlers.Snapshots.Get)

	// Audit log.
	mux.HandleFunc("GET /api/audit", handlers.Audit.List)

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeys, "/api/health", "/metrics")(h)
	h = middleware.Metrics(opts.Metrics)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
