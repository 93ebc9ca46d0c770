package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/adcraft/internal/api"
	"github.com/foxzi/adcraft/internal/campaign"
	"github.com/foxzi/adcraft/internal/config"
	"github.com/foxzi/adcraft/internal/db"
	"github.com/foxzi/adcraft/internal/metrics"
	"github.com/foxzi/adcraft/internal/notify"
	"github.com/foxzi/adcraft/internal/ratelimit"
	"github.com/foxzi/adcraft/internal/render"
	"github.com/foxzi/adcraft/internal/repository"
	"github.com/foxzi/adcraft/internal/storage"
	adcraftTLS "github.com/foxzi/adcraft/internal/tls"
	"github.com/foxzi/adcraft/internal/tracking"
	"github.com/foxzi/adcraft/internal/worker"
)

// App is the main application
type App struct {
	config        *config.Config
	logger        *slog.Logger
	database      *db.DB
	browser       *render.BrowserCapturer
	tracker       tracking.Tracker
	failures      *tracking.FailureStore
	limiter       *ratelimit.Limiter
	worker        *worker.Worker
	apiServer     *api.Server
	acmeManager   *adcraftTLS.ACMEManager
	acmeServer    *http.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
}

// New creates the application and wires all components
func New(cfg *config.Config, version string, logger *slog.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	a.database = database

	if err := os.MkdirAll(cfg.Output.Root, 0755); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}

	renderer, err := a.setupRenderer()
	if err != nil {
		a.close()
		return nil, err
	}

	if err := a.setupTracking(); err != nil {
		a.close()
		return nil, err
	}

	var publisher storage.Publisher
	if cfg.ObjectStorage.Enabled {
		p, err := storage.NewMinIOPublisher(storage.Config{
			Endpoint:      cfg.ObjectStorage.Endpoint,
			AccessKey:     cfg.ObjectStorage.AccessKey,
			SecretKey:     cfg.ObjectStorage.SecretKey,
			Bucket:        cfg.ObjectStorage.Bucket,
			Region:        cfg.ObjectStorage.Region,
			UseSSL:        cfg.ObjectStorage.UseSSL,
			Prefix:        cfg.ObjectStorage.Prefix,
			PresignExpiry: cfg.ObjectStorage.PresignExpiry,
		}, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create object storage publisher: %w", err)
		}
		publisher = p
		logger.Info("archive publishing enabled", "endpoint", cfg.ObjectStorage.Endpoint, "bucket", cfg.ObjectStorage.Bucket)
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.SMTP.Enabled {
		smtpCfg := cfg.Notify.SMTP
		notifier = notify.New(notify.SMTPConfig{
			Host:        smtpCfg.Host,
			Port:        smtpCfg.Port,
			Username:    smtpCfg.Username,
			Password:    smtpCfg.Password,
			From:        smtpCfg.From,
			To:          smtpCfg.To,
			ImplicitTLS: smtpCfg.ImplicitTLS,
		}, logger)
		logger.Info("job notifications enabled", "smtp_host", smtpCfg.Host, "recipients", len(smtpCfg.To))
	}

	generator := campaign.NewGenerator(renderer, a.tracker, cfg.Output.Root, logger)
	a.worker = worker.New(database.DB, generator, publisher, notifier, logger, worker.Config{
		PollInterval:    cfg.Worker.PollInterval,
		Concurrency:     cfg.Worker.Concurrency,
		OutputMaxAge:    cfg.Output.MaxAge,
		CleanupInterval: cfg.Output.CleanupInterval,
	})

	if cfg.API.RateLimit.Enabled {
		if err := a.setupRateLimit(); err != nil {
			a.close()
			return nil, err
		}
	}

	jobs := repository.NewJobRepository(database.DB)
	a.apiServer = api.NewServer(api.Deps{
		Campaigns:  repository.NewCampaignRepository(database.DB),
		Jobs:       jobs,
		Render:     renderer,
		Tracker:    a.tracker,
		Failures:   a.failures,
		Worker:     a.worker,
		OutputRoot: cfg.Output.Root,
		Limiter:    a.limiter,
	}, &cfg.API, version, logger)

	if err := a.setupTLS(); err != nil {
		a.close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		a.metricsServer = metrics.NewServer(m, metrics.ServerOptions{
			Addr:           cfg.Metrics.ListenAddr,
			Path:           cfg.Metrics.Path,
			AllowedIPs:     cfg.Metrics.AllowedIPs,
			TrustedProxies: cfg.Metrics.TrustedProxies,
		}, logger)
		a.collector = metrics.NewCollector(m, jobs, cfg.Database.Path, cfg.Metrics.FlushInterval)
	}

	return a, nil
}

func (a *App) setupRenderer() (*render.Service, error) {
	cfg := a.config.Render

	registry, err := render.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to load compositions: %w", err)
	}
	if cfg.CompositionsDir != "" {
		n, err := registry.LoadDir(cfg.CompositionsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load compositions from %s: %w", cfg.CompositionsDir, err)
		}
		a.logger.Info("custom compositions loaded", "dir", cfg.CompositionsDir, "count", n)
	}

	a.browser = render.NewBrowserCapturer(render.BrowserOptions{
		ControlURL: cfg.ControlURL,
		Bin:        cfg.BrowserBin,
		NoSandbox:  cfg.NoSandbox,
	}, a.logger)

	return render.NewService(registry, a.browser, cfg.PreviewDir, cfg.Timeout, a.logger), nil
}

func (a *App) setupTracking() error {
	cfg := a.config.Tracking

	if cfg.FailureLog != "" && a.config.TrackingEnabled() {
		store, err := tracking.OpenFailureStore(cfg.FailureLog)
		if err != nil {
			return err
		}
		a.failures = store
	}

	tracker, err := tracking.New(tracking.Config{
		PostHogAPIKey:   cfg.PostHog.APIKey,
		PostHogEndpoint: cfg.PostHog.Endpoint,
		Meta: tracking.MetaConfig{
			PixelID:       cfg.Meta.PixelID,
			AccessToken:   cfg.Meta.AccessToken,
			APIVersion:    cfg.Meta.APIVersion,
			GraphURL:      cfg.Meta.GraphURL,
			TestEventCode: cfg.Meta.TestEventCode,
			Timeout:       cfg.Meta.Timeout,
		},
		MaxInFlight:  cfg.MaxInFlight,
		SendTimeout:  cfg.SendTimeout,
		DistinctID:   cfg.DistinctID,
		FailureStore: a.failures,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}
	a.tracker = tracker

	if _, noop := tracker.(tracking.Noop); !noop {
		a.logger.Info("event tracking enabled",
			"posthog", cfg.PostHog.APIKey != "",
			"meta", cfg.Meta.PixelID != "",
			"failure_log", cfg.FailureLog,
		)
	}
	return nil
}

func (a *App) setupTLS() error {
	cfg := a.config.API.TLS

	switch {
	case cfg.ACME.Enabled:
		a.acmeManager = adcraftTLS.NewACMEManager(cfg.ACME.Email, cfg.ACME.Domains, cfg.ACME.CacheDir)
		a.apiServer.SetTLSConfig(a.acmeManager.TLSConfig())
		a.logger.Info("ACME (Let's Encrypt) enabled", "domains", cfg.ACME.Domains)

		for _, cert := range a.acmeManager.CachedCertificates(context.Background()) {
			a.logger.Info("cached certificate", "domain", cert.Domain, "expires", cert.NotAfter, "days_left", cert.DaysLeft)
		}
	case cfg.CertFile != "":
		tlsConfig, err := adcraftTLS.LoadCertificate(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return err
		}
		a.apiServer.SetTLSConfig(tlsConfig)

		if info, err := adcraftTLS.ReadCertificateInfo(cfg.CertFile); err == nil {
			if info.Expiring(14) {
				a.logger.Warn("API certificate expires soon", "domain", info.Domain, "days_left", info.DaysLeft)
			} else {
				a.logger.Info("TLS enabled with manual certificate", "domain", info.Domain, "expires", info.NotAfter)
			}
		}
	}
	return nil
}

func (a *App) setupRateLimit() error {
	cfg := a.config.API.RateLimit

	rlConfig := &ratelimit.Config{
		Global:      limitConfig(cfg.Global),
		PerClientIP: limitConfig(cfg.PerClientIP),
		PerCampaign: limitConfig(cfg.PerCampaign),
	}

	limiter, err := ratelimit.Open(cfg.StateFile, rlConfig)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	a.limiter = limiter
	a.logger.Info("rate limiting enabled", "state_file", cfg.StateFile)
	return nil
}

func limitConfig(v *config.LimitValues) *ratelimit.LimitConfig {
	if v == nil {
		return nil
	}
	return &ratelimit.LimitConfig{
		RequestsPerHour: v.RequestsPerHour,
		RequestsPerDay:  v.RequestsPerDay,
	}
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting adcraft",
		"api_addr", a.config.API.ListenAddr,
		"output_root", a.config.Output.Root,
		"workers", a.config.Worker.Concurrency,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.worker.Start()
	if a.collector != nil {
		a.collector.Start(ctx)
	}
	if a.failures != nil && a.config.Tracking.FailureRetention > 0 {
		go a.purgeFailures(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.acmeManager != nil {
		a.acmeServer = &http.Server{
			Addr:              a.config.API.TLS.ACME.HTTPAddr,
			Handler:           a.acmeManager.HTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("starting ACME HTTP challenge server", "addr", a.acmeServer.Addr)
			if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("ACME HTTP server error", "error", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// purgeFailures drops tracking failures older than the retention once a day
func (a *App) purgeFailures(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		n, err := a.failures.Purge(ctx, a.config.Tracking.FailureRetention)
		if err != nil {
			a.logger.Error("failed to purge tracking failures", "error", err)
		} else if n > 0 {
			a.logger.Info("purged tracking failures", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting requests before stopping the worker
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ACME server shutdown error", "error", err)
		}
	}

	a.worker.Stop()

	if a.collector != nil {
		a.collector.Stop()
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.tracker.Close(shutdownCtx); err != nil {
		a.logger.Error("tracker close error", "error", err)
	}

	a.close()
	a.logger.Info("shutdown complete")
	return nil
}

// close releases resources that do not need a graceful stop
func (a *App) close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			a.logger.Error("browser close error", "error", err)
		}
	}
	if a.limiter != nil {
		if err := a.limiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}
	if a.failures != nil {
		if err := a.failures.Close(); err != nil {
			a.logger.Error("failure log close error", "error", err)
		}
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.logger.Error("database close error", "error", err)
		}
	}
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
