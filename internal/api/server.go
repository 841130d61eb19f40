package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/plugway/internal/inspect"
	"github.com/mattjoyce/plugway/internal/storage"
)

//go:generate mockgen -destination=mocks/mock_api.go -package=mocks github.com/mattjoyce/plugway/internal/api Reporter,AuditReader

// Reporter snapshots the engine's dispatch tables.
type Reporter interface {
	Report() (*inspect.Report, error)
}

// AuditReader reads the completed-request audit trail.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]storage.AuditRecord, error)
}

// Config holds introspection API server configuration.
type Config struct {
	Listen string
	// Key is the bearer token for the protected endpoints. Empty disables
	// them; /healthz stays open either way.
	Key string
}

// Server is the read-only introspection API.
type Server struct {
	config    Config
	reporter  Reporter
	audit     AuditReader
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an API server. audit may be nil when no database is open.
func New(config Config, reporter Reporter, audit AuditReader, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		reporter:  reporter,
		audit:     audit,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/v1/report", s.handleReport)
		r.Get("/v1/extensions", s.handleExtensions)
		r.Get("/v1/hooks", s.handleHooks)
		r.Get("/v1/routes", s.handleRoutes)
		r.Get("/v1/audit", s.handleAudit)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
