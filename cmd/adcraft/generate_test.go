package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foxzi/adcraft/internal/models"
)

func TestLoadCampaignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.yaml")
	data := `
name: Spring Sale
base_template:
  composition_id: split
  headline: Base headline
  brand_color: "#ff0000"
copy_variants:
  - name: Bold
    headline: Big savings
  - id: calm
    headline: Quiet deals
sizes:
  - size_id: instagram-square
    enabled: true
  - size_id: display-leaderboard
    enabled: true
    display_name: Top banner
output:
  format: webp
  organization_mode: flat
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := loadCampaignFile(path)
	if err != nil {
		t.Fatalf("loadCampaignFile failed: %v", err)
	}

	if c.ID == "" || c.Name != "Spring Sale" {
		t.Errorf("unexpected campaign header %+v", c)
	}
	if c.BaseTemplate.CompositionID != "split" || c.BaseTemplate.BrandColor != "#ff0000" {
		t.Errorf("unexpected base template %+v", c.BaseTemplate)
	}
	if c.CopyVariants[0].ID != "variant-1" || c.CopyVariants[1].ID != "calm" || c.CopyVariants[1].Name != "Variant 2" {
		t.Errorf("variant defaults not applied: %+v", c.CopyVariants)
	}
	if c.Sizes[1].DisplayName != "Top banner" {
		t.Errorf("display name lost: %+v", c.Sizes[1])
	}

	// settings absent from the file keep their defaults
	if c.Output.Format != models.FormatWebP || c.Output.OrganizationMode != models.OrganizeFlat {
		t.Errorf("file output settings not applied: %+v", c.Output)
	}
	if !c.Output.IncludeManifest || c.Output.Quality != 90 || c.Output.NamingTemplate != models.NamingVariantSize {
		t.Errorf("default output settings lost: %+v", c.Output)
	}
}

func TestLoadCampaignFileErrors(t *testing.T) {
	if _, err := loadCampaignFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("name: [unclosed"), 0644)
	if _, err := loadCampaignFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseSizeList(t *testing.T) {
	sizes := parseSizeList(" x-post, ,display-leaderboard ")
	if len(sizes) != 2 {
		t.Fatalf("expected 2 sizes, got %d", len(sizes))
	}
	if sizes[0].SizeID != "x-post" || !sizes[0].Enabled || sizes[1].SizeID != "display-leaderboard" {
		t.Errorf("unexpected sizes %+v", sizes)
	}
}

func TestCollectImages(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "Bold"), 0755)
	os.WriteFile(filepath.Join(dir, "Bold", "a.png"), []byte("png"), 0644)
	os.WriteFile(filepath.Join(dir, "flat.JPEG"), []byte("jpeg"), 0644)
	os.WriteFile(filepath.Join(dir, "manifest.json"), []byte("{}"), 0644)

	files, err := collectImages(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 images, got %d", len(files))
	}
	if files[0].ArchivePath != "Bold/a.png" || files[0].VariantID != "Bold" || files[0].Format != "png" {
		t.Errorf("unexpected entry %+v", files[0])
	}
	if files[1].ArchivePath != "flat.JPEG" || files[1].VariantID != "" || files[1].Format != "jpeg" {
		t.Errorf("unexpected entry %+v", files[1])
	}

	if _, err := collectImages(t.TempDir()); err == nil {
		t.Error("expected error for empty directory")
	}
}

func TestPrintJobSummary(t *testing.T) {
	job := &models.GenerationJob{
		Status:         models.JobFailed,
		TotalCount:     2,
		CompletedCount: 1,
		FailedCount:    1,
		ZipPath:        "/tmp/out/spring.zip",
		Assets: []models.CampaignAsset{
			{VariantName: "Bold", SizeName: "X Post", Width: 1600, Height: 900, Status: models.AssetCompleted, FilePath: "Bold/Bold_X_Post.png", SizeBytes: 2048},
			{VariantName: "Calm", SizeName: "X Post", Width: 1600, Height: 900, Status: models.AssetFailed, Error: "browser crashed"},
		},
	}

	var buf bytes.Buffer
	printJobSummary(&buf, job)
	out := buf.String()

	for _, want := range []string{"Bold/Bold_X_Post.png", "2.0 KiB", "browser crashed", "1600x900", "1 completed, 1 failed, 2 total", "/tmp/out/spring.zip"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate = %q", got)
	}
}
