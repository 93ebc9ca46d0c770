package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateLimits = []byte("rate_limits")

// Level represents the scope a quota is counted against
type Level string

const (
	LevelGlobal   Level = "global"
	LevelClientIP Level = "client_ip"
	LevelCampaign Level = "campaign"
)

// ParseLevel converts a level name into a Level
func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelGlobal, LevelClientIP, LevelCampaign:
		return Level(s), true
	}
	return "", false
}

// Config contains quota configuration. A nil limit disables that level.
type Config struct {
	// Global limits across every client
	Global *LimitConfig `yaml:"global,omitempty"`

	// Limits per client IP
	PerClientIP *LimitConfig `yaml:"per_client_ip,omitempty"`

	// Limits per campaign (generation jobs only)
	PerCampaign *LimitConfig `yaml:"per_campaign,omitempty"`

	// Persistence settings
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// LimitConfig contains quota values, 0 means unlimited
type LimitConfig struct {
	RequestsPerHour int `yaml:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay  int `yaml:"requests_per_day" json:"requests_per_day"`
}

// Counter tracks quota counters
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter counts expensive operations (generation jobs, preview renders)
// per level and rejects them once a window quota is used up.
// Counters live in memory and are flushed to bbolt when a database is set.
type Limiter struct {
	db       *bolt.DB
	ownsDB   bool
	config   *Config
	counters map[string]*Counter // key -> counter
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewLimiter creates a limiter. db may be nil for memory-only counters.
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}

	if db == nil {
		return l, nil
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// Open opens (or creates) a bbolt state file and returns a limiter that owns it
func Open(path string, cfg *Config) (*Limiter, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open rate limit state: %w", err)
	}
	l, err := NewLimiter(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.ownsDB = true
	return l, nil
}

// Allow checks if the operation is allowed and increments counters
func (l *Limiter) Allow(ctx context.Context, req *Request) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	checks := l.getChecks(req)

	for _, check := range checks {
		counter := l.getOrCreateCounter(check.key, now)
		resetExpiredCounters(counter, now)

		if denied := evaluate(check, counter.HourlyCount, counter.DailyCount, counter, now); denied != nil {
			return denied, nil
		}
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount++
		counter.DailyCount++
	}

	return &Result{Allowed: true}, nil
}

// Check reports whether the operation would be allowed without counting it
func (l *Limiter) Check(ctx context.Context, req *Request) (*Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()

	for _, check := range l.getChecks(req) {
		counter, exists := l.counters[check.key]
		if !exists {
			continue
		}

		hourly, daily := activeCounts(counter, now)
		if denied := evaluate(check, hourly, daily, counter, now); denied != nil {
			return denied, nil
		}
	}

	return &Result{Allowed: true}, nil
}

// GetStats returns current counters and limits for a level and key
func (l *Limiter) GetStats(ctx context.Context, level Level, key string) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{
		Level: level,
		Key:   key,
		Limit: l.limitFor(level),
	}
	if level == LevelGlobal {
		stats.Key = "global"
	}

	counter, exists := l.counters[makeKey(level, stats.Key)]
	if !exists {
		return stats, nil
	}

	stats.HourStart = counter.HourStart
	stats.DayStart = counter.DayStart
	stats.HourlyCount, stats.DailyCount = activeCounts(counter, l.now())
	return stats, nil
}

// Stop stops background persistence, flushes counters and closes an owned database
func (l *Limiter) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopCh)
		if l.db == nil {
			return
		}
		err = l.persistCounters()
		if l.ownsDB {
			if cerr := l.db.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// Request identifies who is asking for an operation
type Request struct {
	ClientIP   string // Client IP
	CampaignID string // Campaign being generated (empty for previews)
}

// Result contains the quota check result
type Result struct {
	Allowed    bool          `json:"allowed"`
	DeniedBy   Level         `json:"denied_by,omitempty"`
	DeniedKey  string        `json:"denied_key,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Stats contains quota statistics
type Stats struct {
	Level       Level        `json:"level"`
	Key         string       `json:"key"`
	HourlyCount int          `json:"hourly_count"`
	DailyCount  int          `json:"daily_count"`
	HourStart   time.Time    `json:"hour_start,omitempty"`
	DayStart    time.Time    `json:"day_start,omitempty"`
	Limit       *LimitConfig `json:"limit,omitempty"`
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(req *Request) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{
			level: LevelGlobal,
			key:   makeKey(LevelGlobal, "global"),
			limit: l.config.Global,
		})
	}

	if req.ClientIP != "" && l.config.PerClientIP != nil {
		checks = append(checks, limitCheck{
			level: LevelClientIP,
			key:   makeKey(LevelClientIP, req.ClientIP),
			limit: l.config.PerClientIP,
		})
	}

	if req.CampaignID != "" && l.config.PerCampaign != nil {
		checks = append(checks, limitCheck{
			level: LevelCampaign,
			key:   makeKey(LevelCampaign, req.CampaignID),
			limit: l.config.PerCampaign,
		})
	}

	return checks
}

func (l *Limiter) limitFor(level Level) *LimitConfig {
	switch level {
	case LevelGlobal:
		return l.config.Global
	case LevelClientIP:
		return l.config.PerClientIP
	case LevelCampaign:
		return l.config.PerCampaign
	}
	return nil
}

func evaluate(check limitCheck, hourly, daily int, counter *Counter, now time.Time) *Result {
	if check.limit.RequestsPerHour > 0 && hourly >= check.limit.RequestsPerHour {
		return &Result{
			DeniedBy:   check.level,
			DeniedKey:  check.key,
			RetryAfter: counter.HourStart.Add(time.Hour).Sub(now),
		}
	}
	if check.limit.RequestsPerDay > 0 && daily >= check.limit.RequestsPerDay {
		return &Result{
			DeniedBy:   check.level,
			DeniedKey:  check.key,
			RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now),
		}
	}
	return nil
}

func activeCounts(counter *Counter, now time.Time) (hourly, daily int) {
	hourly, daily = counter.HourlyCount, counter.DailyCount
	if now.Sub(counter.HourStart) >= time.Hour {
		hourly = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		daily = 0
	}
	return hourly, daily
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{
			HourStart: now,
			DayStart:  now,
		}
		l.counters[key] = counter
	}
	return counter
}

func resetExpiredCounters(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		for key, counter := range l.counters {
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
