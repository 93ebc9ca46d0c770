package campaign

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foxzi/adcraft/internal/models"
)

// ErrInvalidCampaign is returned when a campaign fails validation
var ErrInvalidCampaign = errors.New("invalid campaign")

// ValidationResult holds every problem found in a campaign
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Err returns nil for a valid result, otherwise an error wrapping ErrInvalidCampaign
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidCampaign, strings.Join(r.Errors, "; "))
}

// Validate checks a campaign and accumulates all violations
func Validate(c *models.Campaign) ValidationResult {
	var errs []string
	if c == nil {
		return ValidationResult{Errors: []string{"campaign is required"}}
	}

	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, "campaign name is required")
	}
	if c.BaseTemplate == nil {
		errs = append(errs, "base template is required")
	}
	if len(c.CopyVariants) == 0 {
		errs = append(errs, "at least one copy variant is required")
	}
	if len(c.EnabledSizes()) == 0 {
		errs = append(errs, "at least one size must be enabled")
	}

	variantIDs := make(map[string]struct{}, len(c.CopyVariants))
	for _, v := range c.CopyVariants {
		variantIDs[v.ID] = struct{}{}
	}
	if len(variantIDs) != len(c.CopyVariants) {
		errs = append(errs, "copy variant IDs must be unique")
	}

	sizeIDs := make(map[string]struct{})
	for _, s := range c.EnabledSizes() {
		if _, dup := sizeIDs[s.SizeID]; dup {
			errs = append(errs, fmt.Sprintf("size %s is enabled more than once", s.SizeID))
			continue
		}
		sizeIDs[s.SizeID] = struct{}{}
	}

	switch c.Output.Format {
	case "", models.FormatPNG, models.FormatJPEG, models.FormatWebP:
	default:
		errs = append(errs, fmt.Sprintf("unsupported output format: %s", c.Output.Format))
	}
	switch c.Output.OrganizationMode {
	case "", models.OrganizeByVariant, models.OrganizeBySize, models.OrganizeFlat:
	default:
		errs = append(errs, fmt.Sprintf("unknown organization mode: %s", c.Output.OrganizationMode))
	}
	if c.Output.CompressionLevel < 0 || c.Output.CompressionLevel > 9 {
		errs = append(errs, "compression level must be between 0 and 9")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
