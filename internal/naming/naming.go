package naming

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/foxzi/adcraft/internal/models"
)

// token pattern for naming templates: {tokenName}
var tokenPattern = regexp.MustCompile(`\{([A-Za-z]+)\}`)

var (
	unsafeChars     = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	repeatedUnderln = regexp.MustCompile(`_+`)
)

// Variables is the set of values a naming template can reference
type Variables = models.FileNamingVariables

// Sanitize replaces characters outside [A-Za-z0-9_-] with underscores,
// collapses underscore runs and trims underscores at both ends.
func Sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = repeatedUnderln.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// Apply substitutes tokens in template and appends the format extension.
// Unknown tokens are kept as is.
func Apply(template string, vars Variables, format string) string {
	name := tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		if v, ok := lookup(match[1:len(match)-1], vars); ok {
			return v
		}
		return match
	})
	return name + "." + format
}

func lookup(token string, vars Variables) (string, bool) {
	switch token {
	case "campaignName":
		return Sanitize(vars.CampaignName), true
	case "variantName":
		return Sanitize(vars.VariantName), true
	case "variantId":
		return vars.VariantID, true
	case "sizeName":
		return Sanitize(vars.SizeName), true
	case "sizeId":
		return vars.SizeID, true
	case "width":
		return strconv.Itoa(vars.Width), true
	case "height":
		return strconv.Itoa(vars.Height), true
	case "platform":
		return Sanitize(vars.Platform), true
	case "index":
		return fmt.Sprintf("%03d", vars.Index), true
	case "timestamp":
		return strconv.FormatInt(vars.Timestamp, 10), true
	}
	return "", false
}

// ResolveTemplate returns the pattern for a built-in template key.
// Anything else is treated as a custom pattern. Empty input yields the default.
func ResolveTemplate(keyOrPattern string) string {
	if keyOrPattern == "" {
		keyOrPattern = models.NamingVariantSize
	}
	for _, t := range models.NamingTemplates {
		if t.Key == keyOrPattern {
			return t.Pattern
		}
	}
	return keyOrPattern
}
