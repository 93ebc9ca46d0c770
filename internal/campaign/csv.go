package campaign

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/foxzi/adcraft/internal/models"
)

// ColumnMapping names the CSV header columns holding each variant field.
// Empty entries fall back to the common aliases.
type ColumnMapping struct {
	ID          string
	Name        string
	Headline    string
	Subheadline string
	Body        string
	CTA         string
}

// ImportResult summarizes a variant import
type ImportResult struct {
	Variants []models.CopyVariant `json:"variants"`
	Total    int                  `json:"total"`
	Skipped  int                  `json:"skipped"`
	Errors   []string             `json:"errors,omitempty"`
}

var columnAliases = map[string][]string{
	"id":          {"id", "variant_id"},
	"name":        {"name", "variant", "variant_name"},
	"headline":    {"headline", "title"},
	"subheadline": {"subheadline", "subtitle", "sub_headline"},
	"body":        {"body", "text", "description"},
	"cta":         {"cta", "call_to_action", "button"},
}

// ImportVariantsCSV reads copy variants from CSV with a header row.
// Rows without any copy text are skipped. Missing names become "Variant N";
// missing IDs become "variant-N", numbered by accepted rows.
func ImportVariantsCSV(reader io.Reader, mapping ColumnMapping) (*ImportResult, error) {
	result := &ImportResult{}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idx := map[string]int{}
	wanted := map[string]string{
		"id":          mapping.ID,
		"name":        mapping.Name,
		"headline":    mapping.Headline,
		"subheadline": mapping.Subheadline,
		"body":        mapping.Body,
		"cta":         mapping.CTA,
	}
	for field, explicit := range wanted {
		names := columnAliases[field]
		if explicit != "" {
			names = []string{explicit}
		}
		if i := findColumn(header, names); i >= 0 {
			idx[field] = i
		} else if explicit != "" {
			return nil, fmt.Errorf("column %q not found in CSV", explicit)
		}
	}

	_, hasHeadline := idx["headline"]
	_, hasBody := idx["body"]
	if !hasHeadline && !hasBody {
		return nil, fmt.Errorf("headline or body column not found in CSV")
	}

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		result.Total++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", result.Total, err))
			result.Skipped++
			continue
		}

		get := func(field string) string {
			i, ok := idx[field]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		v := models.CopyVariant{
			ID:          get("id"),
			Name:        get("name"),
			Headline:    get("headline"),
			Subheadline: get("subheadline"),
			Body:        get("body"),
			CTA:         get("cta"),
		}
		if v.Headline == "" && v.Subheadline == "" && v.Body == "" && v.CTA == "" {
			result.Skipped++
			continue
		}

		n := len(result.Variants) + 1
		if v.ID == "" {
			v.ID = fmt.Sprintf("variant-%d", n)
		}
		if v.Name == "" {
			v.Name = fmt.Sprintf("Variant %d", n)
		}
		result.Variants = append(result.Variants, v)
	}

	return result, nil
}

func findColumn(header []string, names []string) int {
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		for _, n := range names {
			if col == strings.ToLower(n) {
				return i
			}
		}
	}
	return -1
}
