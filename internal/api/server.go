package api

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/adcraft/internal/config"
	"github.com/foxzi/adcraft/internal/ipfilter"
	"github.com/foxzi/adcraft/internal/metrics"
	"github.com/foxzi/adcraft/internal/ratelimit"
	"github.com/foxzi/adcraft/internal/render"
	"github.com/foxzi/adcraft/internal/repository"
	"github.com/foxzi/adcraft/internal/tracking"
)

// Waker is notified when a new job has been queued
type Waker interface {
	Wake()
}

// Deps are the services the API handlers use
type Deps struct {
	Campaigns *repository.CampaignRepository
	Jobs      *repository.JobRepository
	Render    *render.Service
	Tracker   tracking.Tracker
	// Failures may be nil when no failure log is configured
	Failures   *tracking.FailureStore
	Worker     Waker
	OutputRoot string
	// Limiter may be nil when quotas are disabled
	Limiter *ratelimit.Limiter
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	tlsConfig  *tls.Config
	deps       Deps
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
	version    string
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, version string, logger *slog.Logger) *Server {
	if deps.Tracker == nil {
		deps.Tracker = tracking.Noop{}
	}
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
		version:   version,
	}

	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	filter := ipfilter.New("api", s.config.AllowedIPs, s.config.TrustedProxies, s.logger)
	if filter.Enabled() {
		s.logger.Info("API IP filtering enabled", "allowed_networks", filter.Count())
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(filter.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(filter.HTTPMiddleware)
		r.Use(s.authMiddleware)
		r.Use(s.bodyLimitMiddleware)

		r.Get("/sizes", s.handleSizes)
		r.Get("/naming-templates", s.handleNamingTemplates)
		r.Get("/compositions", s.handleCompositions)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Get("/{id}", s.handleGetCampaign)
			r.Put("/{id}", s.handleUpdateCampaign)
			r.Delete("/{id}", s.handleDeleteCampaign)
			r.Post("/{id}/validate", s.handleValidateCampaign)
			r.Post("/{id}/variants/import", s.handleImportVariants)
			r.Post("/{id}/generate", s.handleGenerate)
			r.Get("/{id}/jobs", s.handleCampaignJobs)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Get("/{id}/assets", s.handleJobAssets)
			r.Get("/{id}/download", s.handleJobDownload)
			r.Get("/{id}/manifest", s.handleJobManifest)
		})

		r.Post("/render", s.handleRender)
		r.Post("/track", s.handleTrack)
		r.Get("/tracking/failures", s.handleTrackingFailures)
		r.Get("/rate-limits/{level}", s.handleRateLimitStats)
	})
}

// SetTLSConfig makes ListenAndServe serve HTTPS with the given configuration
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.tlsConfig = cfg
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		TLSConfig:      s.tlsConfig,
	}

	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS API server", "addr", s.config.ListenAddr)
		return s.httpServer.ListenAndServeTLS("", "")
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
