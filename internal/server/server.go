package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stakepool/internal/domain"
	"github.com/alanyoungcy/stakepool/internal/server/handler"
	"github.com/alanyoungcy/stakepool/internal/server/middleware"
	"github.com/alanyoungcy/stakepool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit caps mutating requests per client per RateWindow. Zero
	// disables the limit; it is also skipped when no limiter backend is
	// available.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Pool     *handler.PoolHandler
	Accounts *handler.AccountHandler
	Stake    *handler.StakeHandler
	Admin    *handler.AdminHandler
	Events   *handler.EventHandler
}

// Server is the headless HTTP + WebSocket API server for the staking pool.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket
// hub. limiter may be nil; mutating routes are then unthrottled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Mutating routes share a per-client rate limit; reads stay open.
	window := cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	limited := func(h http.HandlerFunc) http.Handler {
		if limiter == nil || cfg.RateLimit <= 0 {
			return h
		}
		return middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Pool and account reads.
	mux.HandleFunc("GET /api/pool", handlers.Pool.GetPool)
	mux.HandleFunc("GET /api/accounts/{address}", handlers.Accounts.GetAccount)
	mux.HandleFunc("GET /api/accounts/{address}/pending", handlers.Accounts.GetPending)

	// Event history.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// Staking operations.
	mux.Handle("POST /api/deposit", limited(handlers.Stake.Deposit))
	mux.Handle("POST /api/withdraw", limited(handlers.Stake.Withdraw))
	mux.Handle("POST /api/claim", limited(handlers.Stake.Claim))

	// Operator endpoints.
	mux.Handle("POST /api/admin/rate", limited(handlers.Admin.SetRate))
	mux.Handle("POST /api/admin/reserve", limited(handlers.Admin.DepositReserve))
	mux.Handle("POST /api/admin/sweep", limited(handlers.Admin.Sweep))
	mux.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)
	mux.HandleFunc("GET /api/admin/archives", handlers.Admin.ListArchives)
	mux.Handle("DELETE /api/admin/archives/{path...}", limited(handlers.Admin.DeleteArchive))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
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
