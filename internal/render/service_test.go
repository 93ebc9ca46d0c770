package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/foxzi/adcraft/internal/models"
)

type fakeCapturer struct {
	last CaptureRequest
	err  error
}

func (f *fakeCapturer) Capture(ctx context.Context, req CaptureRequest) ([]byte, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte("image:" + req.Format), nil
}

func newTestService(t *testing.T, c Capturer) *Service {
	t.Helper()
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(reg, c, t.TempDir(), 0, logger)
}

func TestRegistryBuiltins(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	ids := []string{}
	for _, c := range reg.List() {
		ids = append(ids, c.ID)
		if !c.Builtin {
			t.Errorf("%s should be builtin", c.ID)
		}
	}
	if strings.Join(ids, ",") != "banner,classic,split" {
		t.Errorf("unexpected compositions: %v", ids)
	}

	if _, err := reg.Get("missing"); !errors.Is(err, ErrCompositionNotFound) {
		t.Errorf("expected ErrCompositionNotFound, got %v", err)
	}
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "black-friday.html"), []byte(`<h1>{{.Headline}}</h1>`), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	reg, _ := NewRegistry()
	n, err := reg.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 composition loaded, got %d", n)
	}
	c, err := reg.Get("black-friday")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Black Friday" || c.Builtin {
		t.Errorf("unexpected composition %+v", c)
	}

	os.WriteFile(filepath.Join(dir, "broken.html"), []byte(`{{.Headline`), 0644)
	if _, err := reg.LoadDir(dir); err == nil {
		t.Error("expected parse error")
	}
}

func TestCompositionHTMLEscapes(t *testing.T) {
	reg, _ := NewRegistry()
	c, _ := reg.Get("classic")

	html, err := c.HTML(models.AdTemplate{Headline: "<script>x</script>", CTA: "Buy"}, 300, 250)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "<script>x") {
		t.Error("headline was not escaped")
	}
	if !strings.Contains(html, "width: 300px") {
		t.Error("width not applied")
	}
	if !strings.Contains(html, "#2563eb") {
		t.Error("default brand color not applied")
	}
}

func TestRenderStill(t *testing.T) {
	fc := &fakeCapturer{}
	s := newTestService(t, fc)
	out := filepath.Join(t.TempDir(), "nested", "hero.jpeg")

	res, err := s.RenderStill(context.Background(), "classic", Options{
		Props:      models.AdTemplate{Headline: "Hello", Width: 500, Height: 500},
		Width:      1200,
		Format:     models.FormatJPEG,
		Quality:    80,
		Scale:      2,
		OutputPath: out,
	})
	if err != nil {
		t.Fatalf("RenderStill failed: %v", err)
	}

	if res.Width != 1200 || res.Height != 500 {
		t.Errorf("expected 1200x500, got %dx%d", res.Width, res.Height)
	}
	if res.OutputPath != out || res.Format != "jpeg" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.SizeInBytes != int64(len("image:jpeg")) {
		t.Errorf("unexpected size %d", res.SizeInBytes)
	}
	if fc.last.Scale != 2 || fc.last.Quality != 80 {
		t.Errorf("capture request not passed through: %+v", fc.last)
	}
	if !strings.Contains(fc.last.HTML, "Hello") {
		t.Error("props not rendered into html")
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestRenderStillDefaults(t *testing.T) {
	fc := &fakeCapturer{}
	s := newTestService(t, fc)

	res, err := s.RenderStill(context.Background(), "banner", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Width != DefaultWidth || res.Height != DefaultHeight || res.Format != "png" {
		t.Errorf("unexpected defaults %+v", res)
	}
	if fc.last.Quality != DefaultQuality || fc.last.Scale != 1 {
		t.Errorf("unexpected capture defaults %+v", fc.last)
	}
	base := filepath.Base(res.OutputPath)
	if !strings.HasPrefix(base, "banner-") || !strings.HasSuffix(base, ".png") {
		t.Errorf("unexpected generated path %s", res.OutputPath)
	}
}

func TestRenderStillErrors(t *testing.T) {
	s := newTestService(t, &fakeCapturer{err: errors.New("chrome crashed")})

	if _, err := s.RenderStill(context.Background(), "nope", Options{}); !errors.Is(err, ErrCompositionNotFound) {
		t.Errorf("expected ErrCompositionNotFound, got %v", err)
	}
	if _, err := s.RenderStill(context.Background(), "classic", Options{Format: "gif"}); err == nil {
		t.Error("expected unsupported format error")
	}
	_, err := s.RenderStill(context.Background(), "classic", Options{})
	if err == nil || !strings.Contains(err.Error(), "chrome crashed") {
		t.Errorf("expected capture error, got %v", err)
	}
}

type blockingCapturer struct{}

func (blockingCapturer) Capture(ctx context.Context, req CaptureRequest) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRenderStillTimeout(t *testing.T) {
	reg, _ := NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewService(reg, blockingCapturer{}, t.TempDir(), 10*time.Millisecond, logger)

	if _, err := s.RenderStill(context.Background(), "classic", Options{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
