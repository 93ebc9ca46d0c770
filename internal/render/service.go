package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/foxzi/adcraft/internal/models"
)

// CaptureRequest is a single HTML document to rasterize
type CaptureRequest struct {
	HTML    string
	Width   int
	Height  int
	Scale   float64
	Format  string
	Quality int
}

// Capturer turns an HTML document into encoded image bytes
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest) ([]byte, error)
}

// Options overrides the composition defaults for one render.
// Zero values fall back to the props, then the composition defaults.
type Options struct {
	Props      models.AdTemplate
	Width      int
	Height     int
	Format     string
	Quality    int
	Scale      float64
	OutputPath string
}

// Result describes a rendered still
type Result struct {
	OutputPath  string `json:"output_path"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Format      string `json:"format"`
	SizeInBytes int64  `json:"size_in_bytes"`
}

// Service renders compositions to image files
type Service struct {
	registry  *Registry
	capturer  Capturer
	outputDir string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewService creates a render service. outputDir is used when a render
// does not specify an output path; timeout of 0 disables the per-render limit.
func NewService(registry *Registry, capturer Capturer, outputDir string, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{
		registry:  registry,
		capturer:  capturer,
		outputDir: outputDir,
		timeout:   timeout,
		logger:    logger.With("component", "render"),
	}
}

// Registry returns the composition registry
func (s *Service) Registry() *Registry {
	return s.registry
}

// RenderStill renders one composition to a file on disk.
// Partially written files are left in place on failure.
func (s *Service) RenderStill(ctx context.Context, compositionID string, opts Options) (*Result, error) {
	comp, err := s.registry.Get(compositionID)
	if err != nil {
		return nil, err
	}

	width := firstPositive(opts.Width, opts.Props.Width, comp.DefaultWidth)
	height := firstPositive(opts.Height, opts.Props.Height, comp.DefaultHeight)

	format := opts.Format
	if format == "" {
		format = models.FormatPNG
	}
	if !ValidFormat(format) {
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(s.outputDir, fmt.Sprintf("%s-%d.%s", compositionID, time.Now().UnixMilli(), format))
	}

	html, err := comp.HTML(opts.Props, width, height)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := s.capturer.Capture(ctx, CaptureRequest{
		HTML:    html,
		Width:   width,
		Height:  height,
		Scale:   scale,
		Format:  format,
		Quality: quality,
	})
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", compositionID, err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", outputPath, err)
	}

	s.logger.Debug("still rendered",
		"composition", compositionID,
		"output", outputPath,
		"width", width,
		"height", height,
		"format", format,
		"bytes", len(data),
		"duration", time.Since(start),
	)

	return &Result{
		OutputPath:  outputPath,
		Width:       width,
		Height:      height,
		Format:      format,
		SizeInBytes: int64(len(data)),
	}, nil
}

// ValidFormat reports whether the image format is supported
func ValidFormat(format string) bool {
	switch format {
	case models.FormatPNG, models.FormatJPEG, models.FormatWebP:
		return true
	}
	return false
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
