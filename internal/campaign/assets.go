package campaign

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/foxzi/adcraft/internal/models"
)

// DefaultCompositionID is rendered when the base template names none
const DefaultCompositionID = "classic"

// GenerateAssetDefinitions crosses copy variants with enabled sizes, variant-major.
// Sizes whose ID has no preset are skipped.
func GenerateAssetDefinitions(c *models.Campaign) []models.CampaignAsset {
	sizes := resolvedSizes(c)
	assets := make([]models.CampaignAsset, 0, len(c.CopyVariants)*len(sizes))

	for _, v := range c.CopyVariants {
		for _, s := range sizes {
			assets = append(assets, models.CampaignAsset{
				ID:          fmt.Sprintf("asset-%s-%s-%s", c.ID, v.ID, s.preset.ID),
				VariantID:   v.ID,
				VariantName: v.Name,
				SizeID:      s.preset.ID,
				SizeName:    s.name,
				Platform:    s.preset.Platform,
				Width:       s.preset.Width,
				Height:      s.preset.Height,
				Status:      models.AssetPending,
			})
		}
	}
	return assets
}

// TotalAssetCount returns the number of assets a generation run will produce
func TotalAssetCount(c *models.Campaign) int {
	return len(c.CopyVariants) * len(resolvedSizes(c))
}

// UnresolvedSizes lists enabled size IDs with no matching preset
func UnresolvedSizes(c *models.Campaign) []string {
	var ids []string
	for _, s := range c.EnabledSizes() {
		if _, ok := models.FindSizePreset(s.SizeID); !ok {
			ids = append(ids, s.SizeID)
		}
	}
	return ids
}

// PathCollision is an output path that more than one asset resolves to.
// Only the last asset rendered to it survives on disk.
type PathCollision struct {
	Path     string   `json:"path"`
	AssetIDs []string `json:"asset_ids"`
}

// Warning formats the collision for validation output
func (p PathCollision) Warning() string {
	return fmt.Sprintf("assets %s share output path %s", strings.Join(p.AssetIDs, ", "), p.Path)
}

// PathCollisions resolves every asset's output path and reports the shared ones,
// in asset order. A {timestamp} token is treated as unique per asset.
func PathCollisions(c *models.Campaign) []PathCollision {
	if c == nil {
		return nil
	}
	assets := GenerateAssetDefinitions(c)
	owners := make(map[string][]string, len(assets))
	var order []string
	for i := range assets {
		p := assetPath(c, &assets[i], i, int64(i))
		if _, seen := owners[p]; !seen {
			order = append(order, p)
		}
		owners[p] = append(owners[p], assets[i].ID)
	}

	var out []PathCollision
	for _, p := range order {
		if ids := owners[p]; len(ids) > 1 {
			out = append(out, PathCollision{Path: p, AssetIDs: ids})
		}
	}
	return out
}

type resolvedSize struct {
	preset models.SizePreset
	name   string
}

func resolvedSizes(c *models.Campaign) []resolvedSize {
	var out []resolvedSize
	for _, s := range c.EnabledSizes() {
		p, ok := models.FindSizePreset(s.SizeID)
		if !ok {
			continue
		}
		name := s.DisplayName
		if name == "" {
			name = p.Name
		}
		out = append(out, resolvedSize{preset: p, name: name})
	}
	return out
}

// NewDefault returns a campaign with one variant and default output settings.
// No sizes are enabled; callers pick them before generating.
func NewDefault(name string) *models.Campaign {
	return &models.Campaign{
		ID:   uuid.New().String(),
		Name: name,
		BaseTemplate: &models.AdTemplate{
			ID:            "base",
			Name:          "Base template",
			CompositionID: DefaultCompositionID,
			Headline:      "Your headline here",
			Subheadline:   "A short supporting line",
			CTA:           "Learn more",
		},
		CopyVariants: []models.CopyVariant{
			{ID: "variant-1", Name: "Variant A"},
		},
		Output:   models.DefaultOutputSettings(),
		Metadata: map[string]string{},
	}
}
