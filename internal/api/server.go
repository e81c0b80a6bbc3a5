package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/symgate/internal/artifact"
	"github.com/mattjoyce/symgate/internal/cache"
	"github.com/mattjoyce/symgate/internal/events"
	"github.com/mattjoyce/symgate/internal/history"
	"github.com/mattjoyce/symgate/internal/semver"
)

// Enqueuer accepts keys for background transcoding.
type Enqueuer interface {
	Enqueue(key artifact.Key)
	Depth() (queued, inFlight int)
}

// Transcoder runs a synchronous transcode for clients that cannot retry.
type Transcoder interface {
	TryTranscode(ctx context.Context, key artifact.Key) (string, error)
	Version() semver.Version
}

// HistoryReader serves the admin audit view.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Attempt, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey guards /admin endpoints; empty disables them.
	APIKey string
	// ConfigHash is reported by /healthz.
	ConfigHash string
}

// Server is the HTTP front of the proxy.
type Server struct {
	config     Config
	cache      *cache.Repository
	queue      Enqueuer
	transcoder Transcoder
	history    HistoryReader
	hub        *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates the server. history and hub may be nil; the corresponding
// admin endpoints then report unavailable.
func New(config Config, repo *cache.Repository, queue Enqueuer, transcoder Transcoder, hist HistoryReader, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:     config,
		cache:      repo,
		queue:      queue,
		transcoder: transcoder,
		history:    hist,
		hub:        hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.config.Listen,
		Handler: router,
		// No WriteTimeout: synchronous transcodes legitimately take minutes.
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
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

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Admin surface.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/admin/recent", s.handleRecent)
		r.Get("/admin/events", s.handleEvents)
	})

	// Symbol download surface. The version segment carries its own "v"
	// prefix, e.g. GET /v3.1.0/ntdll.pdb/<guid>/1.
	r.Get("/{version}/{name}/{id}", s.handleSymbol)
	r.Get("/{version}/{name}/{id}/{age}", s.handleSymbol)

	return r
}

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
