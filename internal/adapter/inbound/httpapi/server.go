package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAddr is the loopback-only listen address.
const DefaultAddr = "127.0.0.1:8372"

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Server runs the API over one HTTP listener with health and metrics
// endpoints alongside the versioned routes.
type Server struct {
	handler *Handler
	addr    string
	logger  *slog.Logger
	reg     *prometheus.Registry
	server  *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address. Default is loopback only.
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithRegistry shares a metrics registry with the rest of the process so
// /metrics exposes the engine instruments too. The server adds the Go
// and process collectors to whatever registry it ends up serving.
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(s *Server) {
		if reg != nil {
			s.reg = reg
		}
	}
}

// NewServer wraps the handler in a managed HTTP server.
func NewServer(handler *Handler, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		handler: handler,
		addr:    DefaultAddr,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reg == nil {
		s.reg = prometheus.NewRegistry()
	}
	s.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// routes assembles the full server mux: the versioned API behind the
// request-id middleware, plus health and metrics.
func (s *Server) routes() http.Handler {
	api := RequestIDMiddleware(s.logger)(s.handler.Routes())

	mux := http.NewServeMux()
	mux.Handle("/v1/", api)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{
		Registry: s.reg,
	}))
	return mux
}

// handleHealthz reports liveness. The kill switch state rides along so
// probes can distinguish "up" from "up but halted".
// GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.handler.respondJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"kill_switch_engaged": s.handler.deps.Kill.Engaged(),
	})
}

// Start begins serving and blocks until ctx is cancelled or the listener
// fails. Cancellation triggers a graceful shutdown bounded by
// shutdownTimeout. Request contexts derive from ctx, so cancellation
// also ends open SSE streams; without that, graceful shutdown would wait
// out the full timeout behind streams that never finish on their own.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.routes(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown drains in-flight requests within the timeout.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts the server down outside of Start's lifecycle.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
