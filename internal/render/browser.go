package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/foxzi/adcraft/internal/models"
)

// BrowserOptions configures the headless Chrome capturer
type BrowserOptions struct {
	// ControlURL connects to an existing browser instead of launching one
	ControlURL string
	// Bin overrides the Chrome binary used by the launcher
	Bin       string
	NoSandbox bool
}

// BrowserCapturer rasterizes HTML with headless Chrome via the DevTools protocol.
// The browser is started on first use and shared by all captures.
type BrowserCapturer struct {
	opts   BrowserOptions
	logger *slog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher

	openPage func() (capturePage, error)
}

// capturePage is one browser tab used for a single capture
type capturePage interface {
	Capture(ctx context.Context, req CaptureRequest) ([]byte, error)
	Close() error
}

// NewBrowserCapturer creates a capturer; no browser is started yet
func NewBrowserCapturer(opts BrowserOptions, logger *slog.Logger) *BrowserCapturer {
	b := &BrowserCapturer{
		opts:   opts,
		logger: logger.With("component", "browser"),
	}
	b.openPage = b.newRodPage
	return b
}

func (b *BrowserCapturer) ensureStarted() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true).NoSandbox(b.opts.NoSandbox)
		if b.opts.Bin != "" {
			l = l.Bin(b.opts.Bin)
		}
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		b.launcher = l
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if b.launcher != nil {
			b.launcher.Kill()
			b.launcher = nil
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	b.browser = browser
	b.logger.Info("browser connected", "launched", b.launcher != nil)
	return browser, nil
}

// Capture renders req.HTML in a fresh page sized to the requested viewport.
// The page is closed even when ctx is cancelled or times out.
func (b *BrowserCapturer) Capture(ctx context.Context, req CaptureRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := b.openPage()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := page.Close(); err != nil {
			b.logger.Warn("failed to close page", "error", err)
		}
	}()

	return page.Capture(ctx, req)
}

func (b *BrowserCapturer) newRodPage() (capturePage, error) {
	browser, err := b.ensureStarted()
	if err != nil {
		return nil, err
	}

	// created without the request context so Close still reaches Chrome after a timeout
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return &rodPage{page: page}, nil
}

type rodPage struct {
	page *rod.Page
}

func (r *rodPage) Capture(ctx context.Context, req CaptureRequest) ([]byte, error) {
	page := r.page.Context(ctx)

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             req.Width,
		Height:            req.Height,
		DeviceScaleFactor: req.Scale,
		Mobile:            false,
	}).Call(page); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if err := page.SetDocumentContent(req.HTML); err != nil {
		return nil, fmt.Errorf("set content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	shot := &proto.PageCaptureScreenshot{Format: screenshotFormat(req.Format)}
	if req.Format != models.FormatPNG {
		q := req.Quality
		shot.Quality = &q
	}
	data, err := page.Screenshot(false, shot)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty screenshot")
	}
	return data, nil
}

func (r *rodPage) Close() error {
	return r.page.Close()
}

// Close shuts down the browser and the launched process, if any
func (b *BrowserCapturer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher = nil
	}
	return err
}

func screenshotFormat(format string) proto.PageCaptureScreenshotFormat {
	switch format {
	case models.FormatJPEG:
		return proto.PageCaptureScreenshotFormatJpeg
	case models.FormatWebP:
		return proto.PageCaptureScreenshotFormatWebp
	default:
		return proto.PageCaptureScreenshotFormatPng
	}
}
