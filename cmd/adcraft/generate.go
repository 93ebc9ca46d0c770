package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/adcraft/internal/app"
	"github.com/foxzi/adcraft/internal/campaign"
	"github.com/foxzi/adcraft/internal/config"
	"github.com/foxzi/adcraft/internal/export"
	"github.com/foxzi/adcraft/internal/models"
	"github.com/foxzi/adcraft/internal/render"
	"github.com/foxzi/adcraft/internal/tracking"
)

var generateCmd = &cobra.Command{
	Use:   "generate <campaign.yaml>",
	Short: "Render a campaign file and package it as a ZIP archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

var (
	generateConfig      string
	generateOutput      string
	generateVariantsCSV string
	generateSizes       string
	generateFormat      string
	generateNaming      string
	generateValidate    bool
)

func init() {
	generateCmd.Flags().StringVarP(&generateConfig, "config", "c", "", "Path to configuration file (render, tracking and logging settings)")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "Output directory (default: <output.root>/<campaign id>)")
	generateCmd.Flags().StringVar(&generateVariantsCSV, "variants-csv", "", "Replace copy variants with rows from a CSV file")
	generateCmd.Flags().StringVar(&generateSizes, "sizes", "", "Comma-separated size IDs to enable instead of the file's sizes")
	generateCmd.Flags().StringVar(&generateFormat, "format", "", "Override output format (png, jpeg, webp)")
	generateCmd.Flags().StringVar(&generateNaming, "naming", "", "Override naming template key or pattern")
	generateCmd.Flags().BoolVar(&generateValidate, "validate-only", false, "Validate the campaign and print the asset count without rendering")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if generateConfig != "" {
		loaded, err := config.Load(generateConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	logger := app.SetupLogger(cfg.Logging)

	c, err := loadCampaignFile(args[0])
	if err != nil {
		return err
	}
	if err := applyGenerateOverrides(c); err != nil {
		return err
	}

	res := campaign.Validate(c)
	if !res.Valid {
		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "  - %s\n", e)
		}
		return res.Err()
	}
	for _, id := range campaign.UnresolvedSizes(c) {
		fmt.Fprintf(os.Stderr, "warning: unknown size %q will be skipped\n", id)
	}
	if generateValidate {
		fmt.Printf("Campaign %q is valid: %d variants x %d sizes = %d assets\n",
			c.Name, len(c.CopyVariants), len(c.EnabledSizes()), campaign.TotalAssetCount(c))
		return nil
	}

	registry, err := render.NewRegistry()
	if err != nil {
		return err
	}
	if cfg.Render.CompositionsDir != "" {
		if _, err := registry.LoadDir(cfg.Render.CompositionsDir); err != nil {
			return err
		}
	}
	browser := render.NewBrowserCapturer(render.BrowserOptions{
		ControlURL: cfg.Render.ControlURL,
		Bin:        cfg.Render.BrowserBin,
		NoSandbox:  cfg.Render.NoSandbox,
	}, logger)
	defer browser.Close()
	renderer := render.NewService(registry, browser, cfg.Render.PreviewDir, cfg.Render.Timeout, logger)

	tracker, err := tracking.New(tracking.Config{
		PostHogAPIKey:   cfg.Tracking.PostHog.APIKey,
		PostHogEndpoint: cfg.Tracking.PostHog.Endpoint,
		Meta: tracking.MetaConfig{
			PixelID:       cfg.Tracking.Meta.PixelID,
			AccessToken:   cfg.Tracking.Meta.AccessToken,
			APIVersion:    cfg.Tracking.Meta.APIVersion,
			GraphURL:      cfg.Tracking.Meta.GraphURL,
			TestEventCode: cfg.Tracking.Meta.TestEventCode,
			Timeout:       cfg.Tracking.Meta.Timeout,
		},
		MaxInFlight: cfg.Tracking.MaxInFlight,
		SendTimeout: cfg.Tracking.SendTimeout,
		DistinctID:  cfg.Tracking.DistinctID,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tracker.Close(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := campaign.NewGenerator(renderer, tracker, cfg.Output.Root, logger)
	gen.OnAssetDone = func(job *models.GenerationJob, asset *models.CampaignAsset) {
		fmt.Fprintf(os.Stderr, "\r[%3d%%] %d/%d", job.Progress, job.CompletedCount+job.FailedCount, job.TotalCount)
	}

	job, err := gen.Generate(ctx, c, generateOutput)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)

	printJobSummary(os.Stdout, job)

	if job.Status != models.JobCompleted {
		if job.Error != "" {
			return fmt.Errorf("generation failed: %s", job.Error)
		}
		return fmt.Errorf("generation finished with %d failed assets", job.FailedCount)
	}
	return nil
}

// loadCampaignFile reads a YAML campaign. Output settings start from the
// defaults so a file only lists what it changes.
func loadCampaignFile(path string) (*models.Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign file: %w", err)
	}

	c := &models.Campaign{Output: models.DefaultOutputSettings()}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse campaign file: %w", err)
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.BaseTemplate == nil {
		c.BaseTemplate = campaign.NewDefault(c.Name).BaseTemplate
	}
	for i := range c.CopyVariants {
		if c.CopyVariants[i].ID == "" {
			c.CopyVariants[i].ID = fmt.Sprintf("variant-%d", i+1)
		}
		if c.CopyVariants[i].Name == "" {
			c.CopyVariants[i].Name = fmt.Sprintf("Variant %d", i+1)
		}
	}
	return c, nil
}

func applyGenerateOverrides(c *models.Campaign) error {
	if generateVariantsCSV != "" {
		f, err := os.Open(generateVariantsCSV)
		if err != nil {
			return err
		}
		defer f.Close()

		res, err := campaign.ImportVariantsCSV(f, campaign.ColumnMapping{})
		if err != nil {
			return err
		}
		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "warning: %s\n", e)
		}
		c.CopyVariants = res.Variants
	}
	if generateSizes != "" {
		c.Sizes = parseSizeList(generateSizes)
	}
	if generateFormat != "" {
		c.Output.Format = generateFormat
	}
	if generateNaming != "" {
		c.Output.NamingTemplate = generateNaming
	}
	return nil
}

func parseSizeList(s string) []models.CampaignSize {
	var sizes []models.CampaignSize
	for _, id := range strings.Split(s, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		sizes = append(sizes, models.CampaignSize{SizeID: id, Enabled: true})
	}
	return sizes
}

func printJobSummary(w io.Writer, job *models.GenerationJob) {
	rows := make([][]string, 0, len(job.Assets))
	for _, a := range job.Assets {
		detail := a.FilePath
		size := ""
		if a.Status == models.AssetFailed {
			detail = a.Error
		} else {
			size = export.FormatBytes(a.SizeBytes)
		}
		rows = append(rows, []string{
			a.VariantName,
			a.SizeName,
			strconv.Itoa(a.Width) + "x" + strconv.Itoa(a.Height),
			a.Status,
			size,
			detail,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Variant", "Size", "Pixels", "Status", "Bytes", "File"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	))

	fmt.Fprintf(w, "Status:    %s\n", job.Status)
	fmt.Fprintf(w, "Assets:    %d completed, %d failed, %d total\n", job.CompletedCount, job.FailedCount, job.TotalCount)
	if job.StartedAt != nil && job.CompletedAt != nil {
		fmt.Fprintf(w, "Duration:  %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Millisecond))
	}
	if job.ZipPath != "" {
		fmt.Fprintf(w, "Archive:   %s\n", job.ZipPath)
	}
	if job.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", job.Error)
	}
}
