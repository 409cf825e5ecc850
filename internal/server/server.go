// Package server exposes the vesting ledger over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/vestd/internal/domain"
	"github.com/alanyoungcy/vestd/internal/server/handler"
	"github.com/alanyoungcy/vestd/internal/server/middleware"
	"github.com/alanyoungcy/vestd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// DomainSeparator and CallerSkew verify the X-Caller-* headers.
	DomainSeparator []byte
	CallerSkew      time.Duration

	// RateLimit requests per RateWindow per client IP; zero disables.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Issuance  *handler.IssuanceHandler
	Balances  *handler.BalanceHandler
	Admin     *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server of vestd.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered. limiter and wsHub
// may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("POST /api/positions", handlers.Issuance.CreatePosition)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("DELETE /api/positions/{id}", handlers.Positions.Burn)
	mux.HandleFunc("GET /api/positions/{id}/claimable", handlers.Positions.GetClaimable)
	mux.HandleFunc("POST /api/positions/{id}/claim", handlers.Positions.Claim)
	mux.HandleFunc("PUT /api/positions/{id}/staked", handlers.Positions.SetStaked)
	mux.HandleFunc("POST /api/positions/{id}/transfer", handlers.Positions.Transfer)
	mux.HandleFunc("GET /api/collectibles/{id}/position", handlers.Positions.PositionForCollectible)

	mux.HandleFunc("POST /api/distributions", handlers.Issuance.Distribute)

	mux.HandleFunc("GET /api/balances/{account}", handlers.Balances.GetBalance)

	mux.HandleFunc("GET /api/registry", handlers.Admin.GetRegistry)
	mux.HandleFunc("POST /api/admin/pause", handlers.Admin.Pause)
	mux.HandleFunc("POST /api/admin/unpause", handlers.Admin.Unpause)
	mux.HandleFunc("PUT /api/admin/registry", handlers.Admin.UpdateRegistry)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Innermost first: caller identity, operator key, rate limit, logging, CORS.
	var h http.Handler = mux
	h = middleware.CallerAuth(cfg.DomainSeparator, cfg.CallerSkew, nil)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
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
