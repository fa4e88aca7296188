// Package api provides the HTTP REST surface.
//
// Endpoints:
//
//	GET    /health               liveness probe
//	GET    /ready                readiness probe (pings the store)
//	POST   /api/sessions         create session (idempotent)
//	GET    /api/sessions         list sessions, newest activity first
//	GET    /api/sessions/{id}    session info with message count
//	DELETE /api/sessions/{id}    delete session and its messages
//	POST   /api/chat             buffered chat turn
//	POST   /api/chat/stream      streaming chat turn (SSE)
//	GET    /api/tools            tool metadata
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: recovery, logging, CORS, auth middleware
//   - ratelimit.go: per-IP token bucket rate limiting
//   - health.go, session.go, chat.go, tools.go: endpoint handlers
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/koopa0/parley/internal/log"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to prevent Slowloris abuse.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response. SSE
	// responses stay open for the whole generation, so this must cover the
	// agent's request timeout with margin.
	WriteTimeout = 5 * time.Minute

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// ServerConfig contains the dependencies and settings for the HTTP server.
type ServerConfig struct {
	Store        SessionStore
	Pinger       Pinger
	Orchestrator Orchestrator

	// APIKey enables X-API-Key auth on /api/ routes when non-empty.
	APIKey string

	// EnabledTools limits the /api/tools listing. Nil means all tools.
	EnabledTools []string

	// CORSOrigins lists origins allowed to call the API from a browser;
	// "*" allows any. Empty disables CORS headers entirely.
	CORSOrigins []string

	// Rate limiting per client IP.
	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool

	Logger log.Logger
}

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	cfg    ServerConfig
	logger log.Logger
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	mux := http.NewServeMux()

	NewHealthHandler(cfg.Pinger, logger).RegisterRoutes(mux)
	NewSessionHandler(cfg.Store, logger).RegisterRoutes(mux)
	NewChatHandler(cfg.Orchestrator, logger).RegisterRoutes(mux)
	NewToolsHandler(cfg.EnabledTools, logger).RegisterRoutes(mux)

	return &Server{mux: mux, cfg: cfg, logger: logger}
}

// Handler returns the HTTP handler with middleware applied.
// Order: recovery → logging → CORS → rate limit → auth → handler.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	}

	if len(s.cfg.CORSOrigins) > 0 {
		middlewares = append(middlewares, corsMiddleware(s.cfg.CORSOrigins))
	}

	if s.cfg.RateLimitRPS > 0 {
		rl := newRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst)
		middlewares = append(middlewares, rateLimitMiddleware(rl, s.cfg.TrustProxy, s.logger))
	}

	middlewares = append(middlewares, authMiddleware(s.cfg.APIKey, s.logger))

	return chain(s.mux, middlewares...)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
