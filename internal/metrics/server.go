package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxzi/adcraft/internal/ipfilter"
)

// ServerOptions configures the metrics HTTP server
type ServerOptions struct {
	Addr       string
	Path       string
	AllowedIPs []string
	// TrustedProxies may report the client address in X-Forwarded-For
	TrustedProxies []string
}

// Server serves Prometheus metrics over HTTP
type Server struct {
	httpServer *http.Server
	metrics    *Metrics
	opts       ServerOptions
	logger     *slog.Logger
	filter     *ipfilter.Filter
}

// NewServer creates a metrics server. Requests to the metrics path are
// limited to AllowedIPs when the list is not empty.
func NewServer(m *Metrics, opts ServerOptions, logger *slog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":9090"
	}
	if opts.Path == "" {
		opts.Path = "/metrics"
	}

	s := &Server{
		metrics: m,
		opts:    opts,
		logger:  logger.With("component", "metrics"),
		filter:  ipfilter.New("metrics", opts.AllowedIPs, opts.TrustedProxies, logger),
	}
	if s.filter.Enabled() {
		s.logger.Info("metrics IP filtering enabled", "allowed_networks", s.filter.Count())
	}
	return s
}

// Handler returns the metrics mux; the health endpoint is never filtered
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.opts.Path, s.filter.HTTPMiddleware(promhttp.HandlerFor(
		s.metrics.Registry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe starts the metrics HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting metrics server", "addr", s.opts.Addr, "path", s.opts.Path)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
