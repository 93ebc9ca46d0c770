package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/foxzi/adcraft/internal/export"
	"github.com/foxzi/adcraft/internal/metrics"
	"github.com/foxzi/adcraft/internal/models"
	"github.com/foxzi/adcraft/internal/naming"
	"github.com/foxzi/adcraft/internal/render"
	"github.com/foxzi/adcraft/internal/tracking"
)

// ErrGenerationInProgress is returned when another run holds the output directory
var ErrGenerationInProgress = errors.New("generation already in progress for output directory")

// Renderer renders a single still image
type Renderer interface {
	RenderStill(ctx context.Context, compositionID string, opts render.Options) (*render.Result, error)
}

// Generator drives a campaign through the renderer one asset at a time
// and packages the output directory into a ZIP archive.
type Generator struct {
	renderer   Renderer
	tracker    tracking.Tracker
	logger     *slog.Logger
	outputRoot string

	// OnStart is called once the asset list is built, before the first render
	OnStart func(job *models.GenerationJob)
	// OnAssetDone is called after every asset, whatever its outcome
	OnAssetDone func(job *models.GenerationJob, asset *models.CampaignAsset)
}

// NewGenerator creates a generator. outputRoot is used when Generate gets no directory.
func NewGenerator(renderer Renderer, tracker tracking.Tracker, outputRoot string, logger *slog.Logger) *Generator {
	if tracker == nil {
		tracker = tracking.Noop{}
	}
	return &Generator{
		renderer:   renderer,
		tracker:    tracker,
		logger:     logger.With("component", "generator"),
		outputRoot: outputRoot,
	}
}

// Generate validates the campaign, renders every asset and writes
// {outputDir}/{campaign.ID}.zip. An empty outputDir resolves to {outputRoot}/{campaign.ID}.
func (g *Generator) Generate(ctx context.Context, c *models.Campaign, outputDir string) (*models.GenerationJob, error) {
	if err := Validate(c).Err(); err != nil {
		return nil, err
	}
	if outputDir == "" {
		outputDir = filepath.Join(g.outputRoot, c.ID)
	}
	job := &models.GenerationJob{
		ID:         uuid.New().String(),
		CampaignID: c.ID,
		Campaign:   c,
		OutputDir:  outputDir,
		Status:     models.JobQueued,
		CreatedAt:  time.Now(),
	}
	if err := g.Run(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Run executes an existing job in place. job.Campaign and job.OutputDir must be set.
// Errors are returned only when the run cannot start; render and archive
// failures are recorded on the job.
func (g *Generator) Run(ctx context.Context, job *models.GenerationJob) error {
	c := job.Campaign
	if err := Validate(c).Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	lock := flock.New(lockPath(job.OutputDir))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock output directory: %w", err)
	}
	if !locked {
		return ErrGenerationInProgress
	}
	defer lock.Unlock()

	logger := g.logger.With("job_id", job.ID, "campaign_id", c.ID)
	for _, id := range UnresolvedSizes(c) {
		logger.Warn("skipping unknown size", "size_id", id)
	}
	for _, pc := range PathCollisions(c) {
		logger.Warn("assets share an output path", "path", pc.Path, "asset_ids", pc.AssetIDs)
	}

	start := time.Now()
	job.Assets = GenerateAssetDefinitions(c)
	job.TotalCount = len(job.Assets)
	job.CompletedCount = 0
	job.FailedCount = 0
	job.Progress = 0
	job.Status = models.JobRunning
	job.StartedAt = &start

	logger.Info("generation started", "assets", job.TotalCount, "output_dir", job.OutputDir)
	if g.OnStart != nil {
		g.OnStart(job)
	}
	g.tracker.Track("campaign_generation_started", tracking.Properties{
		"campaign_id": c.ID,
		"job_id":      job.ID,
		"total":       job.TotalCount,
	})

	variants := make(map[string]models.CopyVariant, len(c.CopyVariants))
	for _, v := range c.CopyVariants {
		variants[v.ID] = v
	}

	for i := range job.Assets {
		asset := &job.Assets[i]
		if err := ctx.Err(); err != nil {
			now := time.Now()
			asset.Status = models.AssetFailed
			asset.Error = err.Error()
			asset.CompletedAt = &now
			job.FailedCount++
		} else {
			g.renderAsset(ctx, job, asset, variants[asset.VariantID], i, logger)
		}

		job.Progress = progress(i+1, job.TotalCount)
		if g.OnAssetDone != nil {
			g.OnAssetDone(job, asset)
		}
	}

	if c.Output.IncludeManifest {
		m := BuildManifest(c, job, time.Now(), time.Since(start))
		if _, err := WriteManifest(job.OutputDir, m); err != nil {
			logger.Error("failed to write manifest", "error", err)
		}
	}

	g.archive(job, logger)

	finished := time.Now()
	job.CompletedAt = &finished
	if job.FailedCount > 0 || job.Error != "" {
		job.Status = models.JobFailed
	} else {
		job.Status = models.JobCompleted
	}

	metrics.ObserveJob(job.Status, finished.Sub(start).Seconds())
	g.tracker.Track("campaign_generation_finished", tracking.Properties{
		"campaign_id": c.ID,
		"job_id":      job.ID,
		"status":      job.Status,
		"completed":   job.CompletedCount,
		"failed":      job.FailedCount,
		"duration_ms": finished.Sub(start).Milliseconds(),
	})
	logger.Info("generation finished",
		"status", job.Status,
		"completed", job.CompletedCount,
		"failed", job.FailedCount,
		"zip", job.ZipPath,
		"duration", finished.Sub(start),
	)
	return nil
}

func (g *Generator) renderAsset(ctx context.Context, job *models.GenerationJob, asset *models.CampaignAsset, variant models.CopyVariant, index int, logger *slog.Logger) {
	c := job.Campaign
	started := time.Now()
	asset.Status = models.AssetRendering
	asset.StartedAt = &started

	tmpl := c.BaseTemplate.WithVariant(variant).WithSize(asset.Width, asset.Height)
	compositionID := tmpl.CompositionID
	if compositionID == "" {
		compositionID = DefaultCompositionID
	}

	format := outputFormat(c)
	rel := assetPath(c, asset, index, started.UnixMilli())
	abs := filepath.Join(job.OutputDir, filepath.FromSlash(rel))

	var res *render.Result
	err := os.MkdirAll(filepath.Dir(abs), 0755)
	if err == nil {
		res, err = g.renderer.RenderStill(ctx, compositionID, render.Options{
			Props:      tmpl,
			Width:      asset.Width,
			Height:     asset.Height,
			Format:     format,
			Quality:    c.Output.Quality,
			Scale:      c.Output.Scale,
			OutputPath: abs,
		})
	}

	done := time.Now()
	asset.CompletedAt = &done
	metricStatus := models.AssetCompleted

	if err != nil {
		asset.Status = models.AssetFailed
		asset.Error = err.Error()
		job.FailedCount++
		metricStatus = models.AssetFailed
		logger.Warn("asset failed", "asset_id", asset.ID, "error", err)
		g.tracker.Track("asset_failed", tracking.Properties{
			"campaign_id": c.ID,
			"asset_id":    asset.ID,
			"error":       err.Error(),
		})
	} else {
		asset.Status = models.AssetCompleted
		asset.FilePath = rel
		asset.SizeBytes = res.SizeInBytes
		job.CompletedCount++
		logger.Debug("asset rendered", "asset_id", asset.ID, "path", rel, "bytes", res.SizeInBytes)
		g.tracker.Track("asset_rendered", tracking.Properties{
			"campaign_id": c.ID,
			"asset_id":    asset.ID,
			"format":      format,
			"width":       asset.Width,
			"height":      asset.Height,
		})
	}
	metrics.ObserveRender(format, metricStatus, done.Sub(started).Seconds())
}

// archive zips the whole output directory; a failure marks the job failed
func (g *Generator) archive(job *models.GenerationJob, logger *slog.Logger) {
	zipPath := filepath.Join(job.OutputDir, job.Campaign.ID+".zip")
	res, err := export.CreateZipFromDirectory(job.OutputDir, zipPath, job.Campaign.Output.CompressionLevel)
	if err != nil {
		os.Remove(zipPath)
		job.ZipPath = ""
		job.Error = fmt.Sprintf("archive: %v", err)
		logger.Error("failed to create archive", "error", err)
		return
	}

	job.ZipPath = res.ZipPath
	metrics.AddArchiveBytes(res.ZipSizeBytes)
	logger.Info("archive created",
		"path", res.ZipPath,
		"files", res.TotalFiles,
		"size", export.FormatBytes(res.ZipSizeBytes),
		"saved", export.FormatCompressionRatio(res.CompressionRatio),
	)
}

func outputFormat(c *models.Campaign) string {
	if c.Output.Format == "" {
		return models.FormatPNG
	}
	return c.Output.Format
}

// assetPath resolves the slash-separated output path of the asset at index
func assetPath(c *models.Campaign, asset *models.CampaignAsset, index int, timestamp int64) string {
	filename := naming.Apply(naming.ResolveTemplate(c.Output.NamingTemplate), naming.Variables{
		CampaignName: c.Name,
		VariantName:  asset.VariantName,
		VariantID:    asset.VariantID,
		SizeName:     asset.SizeName,
		SizeID:       asset.SizeID,
		Width:        asset.Width,
		Height:       asset.Height,
		Platform:     asset.Platform,
		Index:        index + 1,
		Timestamp:    timestamp,
	}, outputFormat(c))
	return RelativePath(c.Output.OrganizationMode, asset, filename)
}

// RelativePath places a file according to the organization mode
func RelativePath(mode string, asset *models.CampaignAsset, filename string) string {
	switch mode {
	case models.OrganizeBySize:
		return path.Join(folderName(asset.SizeName, asset.SizeID), filename)
	case models.OrganizeFlat:
		return filename
	default:
		return path.Join(folderName(asset.VariantName, asset.VariantID), filename)
	}
}

func folderName(name, fallback string) string {
	if s := naming.Sanitize(name); s != "" {
		return s
	}
	if s := naming.Sanitize(fallback); s != "" {
		return s
	}
	return "untitled"
}

// lockPath keeps the lock file beside the output directory so it is never archived
func lockPath(outputDir string) string {
	clean := filepath.Clean(outputDir)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".lock")
}

func progress(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}
