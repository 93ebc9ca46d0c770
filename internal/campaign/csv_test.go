package campaign

import (
	"strings"
	"testing"
)

func TestImportVariantsCSV(t *testing.T) {
	data := "\ufeffName,Title,CTA\n" +
		"Spring,Fresh deals,Shop now\n" +
		",Second headline,\n" +
		"Empty,,\n" +
		"\"Quoted, name\",\"Line with, comma\",Go\n"

	res, err := ImportVariantsCSV(strings.NewReader(data), ColumnMapping{})
	if err != nil {
		t.Fatalf("ImportVariantsCSV failed: %v", err)
	}
	if res.Total != 4 || res.Skipped != 1 {
		t.Errorf("total=%d skipped=%d, want 4 and 1", res.Total, res.Skipped)
	}
	if len(res.Variants) != 3 {
		t.Fatalf("expected 3 variants, got %d", len(res.Variants))
	}

	v := res.Variants[0]
	if v.ID != "variant-1" || v.Name != "Spring" || v.Headline != "Fresh deals" || v.CTA != "Shop now" {
		t.Errorf("unexpected first variant %+v", v)
	}
	if res.Variants[1].Name != "Variant 2" {
		t.Errorf("expected generated name, got %q", res.Variants[1].Name)
	}
	if res.Variants[2].Name != "Quoted, name" || res.Variants[2].Headline != "Line with, comma" {
		t.Errorf("quoted fields not parsed: %+v", res.Variants[2])
	}
}

func TestImportVariantsCSVMapping(t *testing.T) {
	data := "copy_a,label\nHello,First\n"

	res, err := ImportVariantsCSV(strings.NewReader(data), ColumnMapping{Headline: "COPY_A", Name: "label"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Variants) != 1 || res.Variants[0].Headline != "Hello" || res.Variants[0].Name != "First" {
		t.Errorf("mapping not applied: %+v", res.Variants)
	}
}

func TestImportVariantsCSVErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		mapping ColumnMapping
	}{
		{"empty input", "", ColumnMapping{}},
		{"no copy columns", "name,color\nA,red\n", ColumnMapping{}},
		{"mapped column missing", "headline\nHi\n", ColumnMapping{Body: "copy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ImportVariantsCSV(strings.NewReader(tt.data), tt.mapping); err == nil {
				t.Error("expected error")
			}
		})
	}
}
