package models

import "time"

// Output formats
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// Organization modes for generated files
const (
	OrganizeByVariant = "by-variant"
	OrganizeBySize    = "by-size"
	OrganizeFlat      = "flat"
)

// Campaign is a named set of copy variants rendered across a set of ad sizes
type Campaign struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	BaseTemplate *AdTemplate       `json:"base_template" yaml:"base_template"`
	CopyVariants []CopyVariant     `json:"copy_variants" yaml:"copy_variants"`
	Sizes        []CampaignSize    `json:"sizes" yaml:"sizes"`
	Output       OutputSettings    `json:"output" yaml:"output"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time         `json:"updated_at" yaml:"-"`
}

// CopyVariant overrides the text fields of the base template.
// Empty fields keep the base template value.
type CopyVariant struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Headline    string `json:"headline,omitempty" yaml:"headline,omitempty"`
	Subheadline string `json:"subheadline,omitempty" yaml:"subheadline,omitempty"`
	Body        string `json:"body,omitempty" yaml:"body,omitempty"`
	CTA         string `json:"cta,omitempty" yaml:"cta,omitempty"`
}

// CampaignSize selects a size preset for a campaign
type CampaignSize struct {
	SizeID      string `json:"size_id" yaml:"size_id"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
}

// OutputSettings controls rendering and packaging of a campaign
type OutputSettings struct {
	Format           string  `json:"format" yaml:"format"`
	Quality          int     `json:"quality" yaml:"quality"`
	Scale            float64 `json:"scale" yaml:"scale"`
	NamingTemplate   string  `json:"naming_template" yaml:"naming_template"`
	OrganizationMode string  `json:"organization_mode" yaml:"organization_mode"`
	IncludeManifest  bool    `json:"include_manifest" yaml:"include_manifest"`
	CompressionLevel int     `json:"compression_level" yaml:"compression_level"`
}

// DefaultOutputSettings returns output settings used for new campaigns
func DefaultOutputSettings() OutputSettings {
	return OutputSettings{
		Format:           FormatPNG,
		Quality:          90,
		Scale:            1,
		NamingTemplate:   NamingVariantSize,
		OrganizationMode: OrganizeByVariant,
		IncludeManifest:  true,
		CompressionLevel: 9,
	}
}

// EnabledSizes returns the enabled size selections in declaration order
func (c *Campaign) EnabledSizes() []CampaignSize {
	sizes := make([]CampaignSize, 0, len(c.Sizes))
	for _, s := range c.Sizes {
		if s.Enabled {
			sizes = append(sizes, s)
		}
	}
	return sizes
}

// CampaignWithStats is a campaign list row with related counts
type CampaignWithStats struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	VariantCount int       `json:"variant_count"`
	SizeCount    int       `json:"size_count"`
	JobCount     int       `json:"job_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	Search string
	Limit  int
	Offset int
}
