// Package server exposes the placement engine over HTTP: public catalog and
// quotes, owner listing management, admin moderation and a WebSocket event
// stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/server/handler"
	"github.com/alanyoungcy/adboard/internal/server/middleware"
	"github.com/alanyoungcy/adboard/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards owner routes; empty disables the check.
	APIKey string
	// AdminKeyHash is a bcrypt hash guarding admin routes.
	AdminKeyHash    string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Catalog  *handler.CatalogHandler
	Listings *handler.ListingHandler
	Admin    *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging, CORS and,
// when a limiter is given, rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	// Public.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/tiers", handlers.Catalog.ListTiers)
	mux.HandleFunc("POST /api/quote", handlers.Catalog.Quote)
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Owner.
	owner := middleware.Auth(cfg.APIKey)
	mux.Handle("POST /api/listings", owner(http.HandlerFunc(handlers.Listings.Create)))
	mux.Handle("GET /api/listings/{id}", owner(http.HandlerFunc(handlers.Listings.Get)))
	mux.Handle("POST /api/listings/{id}/extend", owner(http.HandlerFunc(handlers.Listings.Extend)))
	mux.Handle("POST /api/listings/{id}/close", owner(http.HandlerFunc(handlers.Listings.Close)))
	mux.Handle("POST /api/listings/{id}/views", owner(http.HandlerFunc(handlers.Listings.RecordView)))
	mux.Handle("POST /api/listings/{id}/inquiries", owner(http.HandlerFunc(handlers.Listings.RecordInquiry)))
	mux.Handle("GET /api/owners/{owner}/listings", owner(http.HandlerFunc(handlers.Listings.ListMine)))
	mux.Handle("GET /api/owners/{owner}/stats", owner(http.HandlerFunc(handlers.Listings.Stats)))

	// Admin.
	admin := middleware.AdminAuth(cfg.AdminKeyHash)
	mux.Handle("GET /api/admin/listings/pending", admin(http.HandlerFunc(handlers.Admin.Pending)))
	mux.Handle("POST /api/admin/listings/{id}/approve", admin(http.HandlerFunc(handlers.Admin.Approve)))
	mux.Handle("POST /api/admin/listings/{id}/reject", admin(http.HandlerFunc(handlers.Admin.Reject)))
	mux.Handle("POST /api/admin/listings/{id}/boost", admin(http.HandlerFunc(handlers.Admin.Boost)))
	mux.Handle("GET /api/admin/tiers/{tier}/listings", admin(http.HandlerFunc(handlers.Admin.TierListings)))
	mux.Handle("POST /api/admin/sweep", admin(http.HandlerFunc(handlers.Admin.Sweep)))

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
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
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
