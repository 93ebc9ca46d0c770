package models

// Built-in file naming template keys
const (
	NamingVariantSize         = "VARIANT_SIZE"
	NamingCampaignVariantSize = "CAMPAIGN_VARIANT_SIZE"
	NamingVariantDimensions   = "VARIANT_DIMENSIONS"
	NamingPlatformSizeVariant = "PLATFORM_SIZE_VARIANT"
	NamingCampaignIndex       = "CAMPAIGN_INDEX"
)

// NamingTemplate is a selectable output file naming pattern
type NamingTemplate struct {
	Key         string `json:"key"`
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
}

// NamingTemplates lists the built-in naming templates
var NamingTemplates = []NamingTemplate{
	{Key: NamingVariantSize, Pattern: "{variantName}_{sizeName}", Description: "Variant and size name"},
	{Key: NamingCampaignVariantSize, Pattern: "{campaignName}_{variantName}_{sizeName}", Description: "Campaign, variant and size name"},
	{Key: NamingVariantDimensions, Pattern: "{variantName}_{width}x{height}", Description: "Variant name and pixel dimensions"},
	{Key: NamingPlatformSizeVariant, Pattern: "{platform}_{sizeName}_{variantName}", Description: "Platform first, for per-network uploads"},
	{Key: NamingCampaignIndex, Pattern: "{campaignName}_{index}", Description: "Campaign name and sequence number"},
}

// FileNamingVariables are the values available to a naming template
type FileNamingVariables struct {
	CampaignName string
	VariantName  string
	VariantID    string
	SizeName     string
	SizeID       string
	Width        int
	Height       int
	Platform     string
	Index        int
	Timestamp    int64
}
