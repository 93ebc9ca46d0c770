package tracking

import (
	"context"
	"log/slog"
	"maps"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
	"golang.org/x/sync/semaphore"

	"github.com/foxzi/adcraft/internal/metrics"
)

// Backend names used in logs, metrics and the failure log
const (
	BackendPostHog = "posthog"
	BackendMeta    = "meta"
)

// Properties is a free-form event property bag
type Properties map[string]any

// Tracker relays named events to analytics backends.
// Track never fails and never blocks on network I/O.
type Tracker interface {
	Track(event string, props Properties)
	Close(ctx context.Context) error
}

// Config configures the forwarder
type Config struct {
	PostHogAPIKey   string
	PostHogEndpoint string
	Meta            MetaConfig
	// MaxInFlight bounds concurrent Conversions API sends
	MaxInFlight  int
	SendTimeout  time.Duration
	DistinctID   string
	FailureStore *FailureStore
}

// Forwarder sends events to PostHog and, when configured, the Meta Conversions API
type Forwarder struct {
	posthog   posthog.Client
	transport *http.Transport
	meta      *MetaClient
	failures  *FailureStore
	logger    *slog.Logger

	distinctID  string
	sendTimeout time.Duration
	sem         *semaphore.Weighted
	wg          sync.WaitGroup

	// mu orders wg.Add in Track before wg.Wait in Close
	mu     sync.RWMutex
	closed bool
}

// New creates a forwarder. It returns a no-op tracker when no backend is configured.
func New(cfg Config, logger *slog.Logger) (Tracker, error) {
	if cfg.PostHogAPIKey == "" && !cfg.Meta.enabled() {
		return Noop{}, nil
	}

	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 16
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DistinctID == "" {
		cfg.DistinctID = "adcraft-server"
	}

	f := &Forwarder{
		failures:    cfg.FailureStore,
		logger:      logger.With("component", "tracking"),
		distinctID:  cfg.DistinctID,
		sendTimeout: cfg.SendTimeout,
		sem:         semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}

	if cfg.PostHogAPIKey != "" {
		f.transport = &http.Transport{Proxy: http.ProxyFromEnvironment}
		client, err := posthog.NewWithConfig(cfg.PostHogAPIKey, posthog.Config{
			Endpoint:  cfg.PostHogEndpoint,
			Transport: f.transport,
			Callback:  &posthogCallback{f: f},
		})
		if err != nil {
			return nil, err
		}
		f.posthog = client
	}

	if cfg.Meta.enabled() {
		f.meta = NewMetaClient(cfg.Meta)
	}

	return f, nil
}

func (c MetaConfig) enabled() bool {
	return c.PixelID != "" && c.AccessToken != ""
}

// Track enqueues the event for PostHog and starts a detached Conversions API send.
// An event_id is generated when props has none so both sides can deduplicate.
func (f *Forwarder) Track(event string, props Properties) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}

	props = maps.Clone(props)
	if props == nil {
		props = Properties{}
	}
	eventID, _ := props["event_id"].(string)
	if eventID == "" {
		eventID = NewEventID(time.Now())
		props["event_id"] = eventID
	}

	if f.posthog != nil {
		f.capturePostHog(event, props)
	}
	if f.meta != nil {
		f.sendMeta(event, eventID, props)
	}
}

func (f *Forwarder) capturePostHog(event string, props Properties) {
	distinctID, _ := props["distinct_id"].(string)
	if distinctID == "" {
		distinctID = f.distinctID
	}

	p := posthog.NewProperties()
	for k, v := range props {
		if k == "distinct_id" {
			continue
		}
		p.Set(k, v)
	}

	err := f.posthog.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: p,
	})
	if err != nil {
		f.recordFailure(BackendPostHog, event, props, err)
		return
	}
	metrics.IncTrackingEvent(BackendPostHog, "enqueued")
}

func (f *Forwarder) sendMeta(event, eventID string, props Properties) {
	if !f.sem.TryAcquire(1) {
		f.logger.Warn("dropping meta event, too many sends in flight", "event", event, "event_id", eventID)
		metrics.IncTrackingDropped()
		return
	}

	ev := BuildMetaEvent(event, eventID, props, time.Now())
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), f.sendTimeout)
		defer cancel()

		resp, err := f.meta.Send(ctx, ev)
		if err != nil {
			f.recordFailure(BackendMeta, event, props, err)
			return
		}
		metrics.IncTrackingEvent(BackendMeta, "ok")
		f.logger.Debug("meta event sent", "event", event, "event_id", eventID, "received", resp.EventsReceived)
	}()
}

// recordFailure logs a failed delivery and stores it when a failure log is configured.
// PII values are not stored.
func (f *Forwarder) recordFailure(backend, event string, props Properties, err error) {
	metrics.IncTrackingEvent(backend, "error")
	eventID, _ := props["event_id"].(string)
	f.logger.Error("tracking delivery failed", "backend", backend, "event", event, "event_id", eventID, "error", err)

	if f.failures == nil {
		return
	}
	clean := make(map[string]any, len(props))
	for k, v := range props {
		if _, pii := piiFields[k]; pii {
			continue
		}
		clean[k] = v
	}
	if serr := f.failures.Save(context.Background(), &Failure{
		Backend: backend,
		Event:   event,
		EventID: eventID,
		Error:   err.Error(),
		Props:   clean,
	}); serr != nil {
		f.logger.Error("failed to store tracking failure", "error", serr)
	}
}

// Close stops accepting events, waits for detached sends and flushes PostHog
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if f.posthog != nil {
		if cerr := f.posthog.Close(); cerr != nil && err == nil {
			err = cerr
		}
		f.transport.CloseIdleConnections()
	}
	if f.meta != nil {
		f.meta.CloseIdleConnections()
	}
	return err
}

// posthogCallback records batches PostHog could not deliver
type posthogCallback struct {
	f *Forwarder
}

func (c *posthogCallback) Success(msg posthog.APIMessage) {}

func (c *posthogCallback) Failure(msg posthog.APIMessage, err error) {
	if capture, ok := msg.(posthog.Capture); ok {
		c.f.recordFailure(BackendPostHog, capture.Event, Properties(capture.Properties), err)
		return
	}
	c.f.recordFailure(BackendPostHog, "", nil, err)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewEventID returns "{unixMillis}-{9 random base36 chars}"
func NewEventID(now time.Time) string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + string(suffix)
}

// Noop discards all events
type Noop struct{}

// Track does nothing
func (Noop) Track(string, Properties) {}

// Close does nothing
func (Noop) Close(context.Context) error { return nil }
