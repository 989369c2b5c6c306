package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsServer serves /healthz and /metrics.
type OpsServer struct {
	addr          string
	logger        *slog.Logger
	registry      *prometheus.Registry
	healthChecker *HealthChecker
	metrics       *Metrics
	shutdownAfter time.Duration

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option is a functional option for configuring OpsServer.
type Option func(*OpsServer)

// WithAddr sets the listen address. Default is "127.0.0.1:9090".
func WithAddr(addr string) Option {
	return func(s *OpsServer) {
		s.addr = addr
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *OpsServer) {
		s.logger = logger
	}
}

// WithRegistry sets the registry exposed on /metrics. The server's own
// request metrics are registered on it too.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *OpsServer) {
		s.registry = reg
	}
}

// WithHealthChecker sets the health checker for the /healthz endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *OpsServer) {
		s.healthChecker = hc
	}
}

// WithShutdownTimeout bounds graceful shutdown. Default is 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *OpsServer) {
		s.shutdownAfter = d
	}
}

// NewOpsServer creates an ops server. Without a registry a fresh one is
// used; without a health checker /healthz reports only runtime info.
func NewOpsServer(opts ...Option) *OpsServer {
	s := &OpsServer{
		addr:          "127.0.0.1:9090",
		logger:        slog.Default(),
		shutdownAfter: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.healthChecker == nil {
		s.healthChecker = NewHealthChecker("")
	}
	s.metrics = NewMetrics(s.registry)
	return s
}

// Handler builds the routed handler with its middleware chain:
// Metrics -> RequestID -> AccessLog -> mux.
func (s *OpsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", s.healthChecker.Handler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))

	var handler http.Handler = mux
	handler = AccessLogMiddleware(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	handler = MetricsMiddleware(s.metrics)(handler)
	return handler
}

// Addr returns the bound address once Start is listening, else the
// configured address.
func (s *OpsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start listens and serves until ctx is cancelled or the server fails.
func (s *OpsServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	// Channel for server errors
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting ops server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down ops server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *OpsServer) shutdown() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownAfter)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("ops server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *OpsServer) Close() error {
	return s.shutdown()
}
