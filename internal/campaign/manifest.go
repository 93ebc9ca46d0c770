package campaign

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/foxzi/adcraft/internal/models"
)

// ManifestFile is the campaign manifest written into the output directory
const ManifestFile = "manifest.json"

// Manifest is the campaign-level summary of a generation run
type Manifest struct {
	Campaign ManifestCampaign  `json:"campaign"`
	Variants []ManifestVariant `json:"variants"`
	Sizes    []ManifestSize    `json:"sizes"`
	Assets   []ManifestAsset   `json:"assets"`
	Stats    ManifestStats     `json:"stats"`
}

// ManifestCampaign identifies the campaign and when the manifest was written
type ManifestCampaign struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	GeneratedAt string `json:"generatedAt"`
}

// ManifestVariant is the copy of one variant as it was rendered
type ManifestVariant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Headline    string `json:"headline,omitempty"`
	Subheadline string `json:"subheadline,omitempty"`
	Body        string `json:"body,omitempty"`
	CTA         string `json:"cta,omitempty"`
}

// ManifestSize is an enabled size resolved against the preset catalogue
type ManifestSize struct {
	SizeID   string `json:"sizeId"`
	Name     string `json:"name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Platform string `json:"platform,omitempty"`
}

// ManifestAsset records the outcome of one variant and size pair.
// FilePath is relative to the output directory.
type ManifestAsset struct {
	ID          string `json:"id"`
	VariantID   string `json:"variantId"`
	SizeID      string `json:"sizeId"`
	FilePath    string `json:"filePath,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	SizeInBytes int64  `json:"sizeInBytes,omitempty"`
}

// ManifestStats holds run totals
type ManifestStats struct {
	TotalAssets      int   `json:"totalAssets"`
	CompletedAssets  int   `json:"completedAssets"`
	FailedAssets     int   `json:"failedAssets"`
	TotalVariants    int   `json:"totalVariants"`
	TotalSizes       int   `json:"totalSizes"`
	TotalSizeBytes   int64 `json:"totalSizeBytes,omitempty"`
	GenerationTimeMs int64 `json:"generationTimeMs,omitempty"`
}

// BuildManifest summarizes a finished or in-progress job
func BuildManifest(c *models.Campaign, job *models.GenerationJob, generatedAt time.Time, elapsed time.Duration) *Manifest {
	m := &Manifest{
		Campaign: ManifestCampaign{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		},
		Variants: make([]ManifestVariant, 0, len(c.CopyVariants)),
		Assets:   make([]ManifestAsset, 0, len(job.Assets)),
	}

	for _, v := range c.CopyVariants {
		m.Variants = append(m.Variants, ManifestVariant{
			ID:          v.ID,
			Name:        v.Name,
			Headline:    v.Headline,
			Subheadline: v.Subheadline,
			Body:        v.Body,
			CTA:         v.CTA,
		})
	}
	for _, s := range resolvedSizes(c) {
		m.Sizes = append(m.Sizes, ManifestSize{
			SizeID:   s.preset.ID,
			Name:     s.name,
			Width:    s.preset.Width,
			Height:   s.preset.Height,
			Platform: s.preset.Platform,
		})
	}

	var total int64
	for _, a := range job.Assets {
		m.Assets = append(m.Assets, ManifestAsset{
			ID:          a.ID,
			VariantID:   a.VariantID,
			SizeID:      a.SizeID,
			FilePath:    a.FilePath,
			Width:       a.Width,
			Height:      a.Height,
			Status:      a.Status,
			Error:       a.Error,
			SizeInBytes: a.SizeBytes,
		})
		total += a.SizeBytes
	}

	m.Stats = ManifestStats{
		TotalAssets:      job.TotalCount,
		CompletedAssets:  job.CompletedCount,
		FailedAssets:     job.FailedCount,
		TotalVariants:    len(m.Variants),
		TotalSizes:       len(m.Sizes),
		TotalSizeBytes:   total,
		GenerationTimeMs: elapsed.Milliseconds(),
	}
	return m
}

// WriteManifest writes the manifest as indented JSON into dir
func WriteManifest(dir string, m *Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
