// Package server exposes the lending protocol over HTTP: pool and loan
// operations, the liquidation audit trail, and signed governance
// updates.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/server/handler"
	"github.com/alanyoungcy/lendcore/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKeys     []string // if empty, authentication is disabled

	// RateLimiter, when non-nil, applies per-client request limiting.
	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health       *handler.HealthHandler
	Pools        *handler.PoolHandler
	Loans        *handler.LoanHandler
	Liquidations *handler.LiquidationHandler
	Governance   *handler.GovernanceHandler
	Status       *handler.StatusHandler
}

// Server is the headless HTTP API server for the lending protocol.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting, auth).
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and status.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Pool endpoints.
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{asset}", handlers.Pools.GetPool)
	mux.HandleFunc("POST /api/pools/{asset}/deposit", handlers.Pools.Deposit)
	mux.HandleFunc("POST /api/pools/{asset}/redeem", handlers.Pools.Redeem)

	// Loan endpoints.
	mux.HandleFunc("GET /api/loans", handlers.Loans.ListLoans)
	mux.HandleFunc("POST /api/loans", handlers.Loans.Borrow)
	mux.HandleFunc("GET /api/loans/{id}", handlers.Loans.GetLoan)
	mux.HandleFunc("POST /api/loans/{id}/adjust", handlers.Loans.Adjust)
	mux.HandleFunc("POST /api/loans/{id}/close", handlers.Loans.Close)

	// Liquidation audit trail.
	mux.HandleFunc("GET /api/liquidations/recent", handlers.Liquidations.ListRecent)
	mux.HandleFunc("GET /api/liquidations/{id}", handlers.Liquidations.GetLiquidation)

	// Governance.
	mux.HandleFunc("POST /api/governance/risk-params", handlers.Governance.UpdateRiskParams)

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeys)(h)
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
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
