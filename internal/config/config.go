package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	API           APIConfig           `yaml:"api"`
	Database      DatabaseConfig      `yaml:"database"`
	Output        OutputConfig        `yaml:"output"`
	Render        RenderConfig        `yaml:"render"`
	Worker        WorkerConfig        `yaml:"worker"`
	Tracking      TrackingConfig      `yaml:"tracking"`
	ObjectStorage ObjectStorageConfig `yaml:"object_storage"`
	Notify        NotifyConfig        `yaml:"notify"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	AllowedIPs     []string      `yaml:"allowed_ips"`     // IPs/CIDRs allowed to call /api/v1 (empty = allow all)
	TrustedProxies []string      `yaml:"trusted_proxies"` // peers whose X-Forwarded-For / X-Real-IP are honoured
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Default: 1MB
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`   // Default: 10MB
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`

	TLS       TLSConfig       `yaml:"tls"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// TLSConfig contains API certificate settings
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt ACME settings
type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"` // Default: /var/lib/adcraft/acme
	HTTPAddr string   `yaml:"http_addr"` // HTTP-01 challenge listener. Default: :80
}

// Enabled reports whether the API is served over HTTPS
func (t TLSConfig) Enabled() bool {
	return t.ACME.Enabled || t.CertFile != ""
}

// RateLimitConfig contains quotas for generation jobs and preview renders
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// StateFile persists counters across restarts (bbolt). Default: next to the database
	StateFile string `yaml:"state_file"`

	// Global limits (for entire server)
	Global *LimitValues `yaml:"global,omitempty"`

	// Limits per client IP
	PerClientIP *LimitValues `yaml:"per_client_ip,omitempty"`

	// Limits per campaign, applied to generation jobs
	PerCampaign *LimitValues `yaml:"per_campaign,omitempty"`
}

// LimitValues contains quota values, 0 means unlimited
type LimitValues struct {
	RequestsPerHour int `yaml:"requests_per_hour"`
	RequestsPerDay  int `yaml:"requests_per_day"`
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OutputConfig controls where generated campaigns are written
type OutputConfig struct {
	Root            string        `yaml:"root"`
	MaxAge          time.Duration `yaml:"max_age"`          // Delete finished job output older than this (0 = keep forever)
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // Default: 1h
}

// RenderConfig configures the still renderer
type RenderConfig struct {
	CompositionsDir string        `yaml:"compositions_dir"` // Extra *.html compositions
	PreviewDir      string        `yaml:"preview_dir"`      // Output of single renders
	Timeout         time.Duration `yaml:"timeout"`          // Per-render timeout (0 = none)
	BrowserBin      string        `yaml:"browser_bin"`
	ControlURL      string        `yaml:"control_url"` // Connect to a running browser instead of launching one
	NoSandbox       bool          `yaml:"no_sandbox"`
}

// WorkerConfig configures the background job runner
type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// TrackingConfig configures event forwarding
type TrackingConfig struct {
	PostHog     PostHogConfig `yaml:"posthog"`
	Meta        MetaConfig    `yaml:"meta"`
	MaxInFlight int           `yaml:"max_in_flight"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	DistinctID  string        `yaml:"distinct_id"`
	// FailureLog is a bbolt file recording failed deliveries (empty = disabled)
	FailureLog       string        `yaml:"failure_log"`
	FailureRetention time.Duration `yaml:"failure_retention"`
}

// PostHogConfig contains PostHog settings
type PostHogConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

// MetaConfig contains Meta Conversions API settings
type MetaConfig struct {
	PixelID       string        `yaml:"pixel_id"`
	AccessToken   string        `yaml:"access_token"`
	APIVersion    string        `yaml:"api_version"`
	GraphURL      string        `yaml:"graph_url"`
	TestEventCode string        `yaml:"test_event_code"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ObjectStorageConfig configures archive publishing to S3-compatible storage
type ObjectStorageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	UseSSL        bool          `yaml:"use_ssl"`
	Prefix        string        `yaml:"prefix"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

// NotifyConfig configures job notifications
type NotifyConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
}

// SMTPConfig contains outgoing mail settings
type SMTPConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	ImplicitTLS bool     `yaml:"implicit_tls"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs     []string      `yaml:"allowed_ips"`
	TrustedProxies []string      `yaml:"trusted_proxies"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20
	}
	if c.API.MaxBodyBytes == 0 {
		c.API.MaxBodyBytes = 10 << 20
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 5 * time.Minute
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.API.TLS.ACME.Enabled {
		if c.API.TLS.ACME.CacheDir == "" {
			c.API.TLS.ACME.CacheDir = "/var/lib/adcraft/acme"
		}
		if c.API.TLS.ACME.HTTPAddr == "" {
			c.API.TLS.ACME.HTTPAddr = ":80"
		}
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/adcraft/adcraft.db"
	}
	if c.API.RateLimit.Enabled && c.API.RateLimit.StateFile == "" {
		c.API.RateLimit.StateFile = filepath.Join(filepath.Dir(c.Database.Path), "ratelimit.db")
	}

	if c.Output.Root == "" {
		c.Output.Root = "/var/lib/adcraft/output"
	}
	if c.Output.CleanupInterval == 0 {
		c.Output.CleanupInterval = time.Hour
	}

	if c.Render.PreviewDir == "" {
		c.Render.PreviewDir = filepath.Join(c.Output.Root, "previews")
	}
	if c.Render.Timeout == 0 {
		c.Render.Timeout = 60 * time.Second
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 2 * time.Second
	}

	if c.Tracking.MaxInFlight == 0 {
		c.Tracking.MaxInFlight = 16
	}
	if c.Tracking.SendTimeout == 0 {
		c.Tracking.SendTimeout = 10 * time.Second
	}
	if c.Tracking.DistinctID == "" {
		c.Tracking.DistinctID = "adcraft-server"
	}
	if c.Tracking.Meta.APIVersion == "" {
		c.Tracking.Meta.APIVersion = "v21.0"
	}
	if c.Tracking.FailureRetention == 0 {
		c.Tracking.FailureRetention = 30 * 24 * time.Hour
	}

	if c.ObjectStorage.PresignExpiry == 0 {
		c.ObjectStorage.PresignExpiry = 24 * time.Hour
	}

	if c.Notify.SMTP.Port == 0 {
		c.Notify.SMTP.Port = 587
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Render.Timeout < 0 {
		return fmt.Errorf("render.timeout must not be negative")
	}

	tlsCfg := c.API.TLS
	if (tlsCfg.CertFile == "") != (tlsCfg.KeyFile == "") {
		return fmt.Errorf("api.tls.cert_file and api.tls.key_file must be set together")
	}
	if tlsCfg.ACME.Enabled {
		if tlsCfg.CertFile != "" {
			return fmt.Errorf("api.tls.acme cannot be combined with cert_file")
		}
		if len(tlsCfg.ACME.Domains) == 0 {
			return fmt.Errorf("api.tls.acme.domains must not be empty when ACME is enabled")
		}
	}

	for name, lv := range map[string]*LimitValues{
		"global":        c.API.RateLimit.Global,
		"per_client_ip": c.API.RateLimit.PerClientIP,
		"per_campaign":  c.API.RateLimit.PerCampaign,
	} {
		if lv != nil && (lv.RequestsPerHour < 0 || lv.RequestsPerDay < 0) {
			return fmt.Errorf("api.rate_limit.%s values must not be negative", name)
		}
	}

	for field, entries := range map[string][]string{
		"api.allowed_ips":         c.API.AllowedIPs,
		"api.trusted_proxies":     c.API.TrustedProxies,
		"metrics.allowed_ips":     c.Metrics.AllowedIPs,
		"metrics.trusted_proxies": c.Metrics.TrustedProxies,
	} {
		for _, entry := range entries {
			if !validNetwork(entry) {
				return fmt.Errorf("invalid %s entry: %q (must be an IP or CIDR)", field, entry)
			}
		}
	}

	meta := c.Tracking.Meta
	if (meta.PixelID == "") != (meta.AccessToken == "") {
		return fmt.Errorf("tracking.meta.pixel_id and tracking.meta.access_token must be set together")
	}

	if c.ObjectStorage.Enabled {
		if c.ObjectStorage.Endpoint == "" {
			return fmt.Errorf("object_storage.endpoint is required when object storage is enabled")
		}
		if c.ObjectStorage.Bucket == "" {
			return fmt.Errorf("object_storage.bucket is required when object storage is enabled")
		}
	}

	if c.Notify.SMTP.Enabled {
		if c.Notify.SMTP.Host == "" {
			return fmt.Errorf("notify.smtp.host is required when notifications are enabled")
		}
		if len(c.Notify.SMTP.To) == 0 {
			return fmt.Errorf("notify.smtp.to must not be empty when notifications are enabled")
		}
		for _, to := range c.Notify.SMTP.To {
			if !strings.Contains(to, "@") {
				return fmt.Errorf("invalid notify.smtp.to address: %s", to)
			}
		}
	}

	return nil
}

func validNetwork(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}

// TrackingEnabled reports whether any tracking backend is configured
func (c *Config) TrackingEnabled() bool {
	return c.Tracking.PostHog.APIKey != "" || c.Tracking.Meta.PixelID != ""
}
