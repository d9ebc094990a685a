// Package server is the read-only status server: health probes, the run
// registry, and the metrics scrape endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/demuxmgr/internal/errors"
	"github.com/3leaps/demuxmgr/internal/observability"
	"github.com/3leaps/demuxmgr/internal/server/handlers"
	"github.com/3leaps/demuxmgr/internal/server/middleware"
)

// Server wraps the router and its http.Server.
type Server struct {
	host    string
	port    int
	router  chi.Router
	runs    handlers.RunSource
	metrics http.Handler

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRunSource enables /runs and /runs/{id}.
func WithRunSource(src handlers.RunSource) Option {
	return func(s *Server) { s.runs = src }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		s.readTimeout, s.writeTimeout, s.idleTimeout = read, write, idle
	}
}

// New builds the server and its routes. Nothing listens until Start.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recovery)

	r.NotFound(apperrors.NotFound)
	r.MethodNotAllowed(apperrors.MethodNotAllowed)

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.runs != nil {
		rh := &handlers.RunsHandler{Source: s.runs}
		r.Get("/runs", rh.List)
		r.Get("/runs/{id}", rh.Get)
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Port() int {
	return s.port
}

// Start serves until ctx is cancelled or the listener fails, then shuts
// down within shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	observability.CLILogger.Info("Status server listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	observability.CLILogger.Info("Status server stopped")
	return nil
}
