package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/foxzi/adcraft/internal/models"
)

type blockingPage struct {
	closed   bool
	closeErr error
}

func (p *blockingPage) Capture(ctx context.Context, req CaptureRequest) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingPage) Close() error {
	p.closed = true
	return p.closeErr
}

func newTestCapturer(open func() (capturePage, error)) *BrowserCapturer {
	b := NewBrowserCapturer(BrowserOptions{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.openPage = open
	return b
}

func TestCaptureClosesPageAfterTimeout(t *testing.T) {
	page := &blockingPage{}
	b := newTestCapturer(func() (capturePage, error) { return page, nil })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Capture(ctx, CaptureRequest{HTML: "<p></p>", Width: 10, Height: 10, Format: models.FormatPNG})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !page.closed {
		t.Error("page should be closed after the context times out")
	}
}

func TestCaptureClosesPageAfterCancel(t *testing.T) {
	page := &blockingPage{closeErr: errors.New("target gone")}
	b := newTestCapturer(func() (capturePage, error) { return page, nil })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := b.Capture(ctx, CaptureRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if !page.closed {
		t.Error("page should be closed after cancellation")
	}
}

func TestCaptureCancelledBeforeOpen(t *testing.T) {
	opened := false
	b := newTestCapturer(func() (capturePage, error) {
		opened = true
		return &blockingPage{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Capture(ctx, CaptureRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if opened {
		t.Error("no page should be opened for a cancelled context")
	}
}

func TestCaptureOpenError(t *testing.T) {
	b := newTestCapturer(func() (capturePage, error) { return nil, errors.New("connect to chrome: refused") })

	if _, err := b.Capture(context.Background(), CaptureRequest{}); err == nil {
		t.Fatal("expected open error")
	}
}
