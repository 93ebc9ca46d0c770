package export

import (
	"path"
	"sort"
	"time"
)

// ManifestName is the archive entry holding the export manifest
const ManifestName = "manifest.json"

// Manifest summarizes the contents of an export archive
type Manifest struct {
	ExportDate     string                   `json:"exportDate"`
	TotalFiles     int                      `json:"totalFiles"`
	TotalSizeBytes int64                    `json:"totalSizeBytes"`
	Organization   Organization             `json:"organization"`
	Variants       map[string]*VariantGroup `json:"variants"`
	Sizes          map[string]*SizeGroup    `json:"sizes"`
	Files          []FileManifest           `json:"files"`
}

// Organization records how files were grouped in the archive
type Organization struct {
	ByVariant bool `json:"byVariant"`
	BySize    bool `json:"bySize"`
}

// VariantGroup lists the files that belong to one copy variant
type VariantGroup struct {
	VariantID string         `json:"variantId"`
	FileCount int            `json:"fileCount"`
	Files     []FileManifest `json:"files"`
}

// SizeGroup lists the files rendered at one size
type SizeGroup struct {
	SizeID    string         `json:"sizeId"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	FileCount int            `json:"fileCount"`
	Files     []FileManifest `json:"files"`
}

// FileManifest describes one archived file
type FileManifest struct {
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	VariantID   string `json:"variantId,omitempty"`
	SizeID      string `json:"sizeId,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Format      string `json:"format"`
	SizeInBytes int64  `json:"sizeInBytes"`
}

// BuildManifest groups the archived files by variant, by size and as a flat list
func BuildManifest(files []FileManifest, org Organization, now time.Time) *Manifest {
	m := &Manifest{
		ExportDate:   now.UTC().Format(time.RFC3339Nano),
		Organization: org,
		Variants:     make(map[string]*VariantGroup),
		Sizes:        make(map[string]*SizeGroup),
		Files:        make([]FileManifest, 0, len(files)),
	}

	for _, f := range files {
		m.Files = append(m.Files, f)
		m.TotalFiles++
		m.TotalSizeBytes += f.SizeInBytes

		if f.VariantID != "" {
			g, ok := m.Variants[f.VariantID]
			if !ok {
				g = &VariantGroup{VariantID: f.VariantID}
				m.Variants[f.VariantID] = g
			}
			g.Files = append(g.Files, f)
			g.FileCount++
		}

		if f.SizeID != "" {
			g, ok := m.Sizes[f.SizeID]
			if !ok {
				g = &SizeGroup{SizeID: f.SizeID, Width: f.Width, Height: f.Height}
				m.Sizes[f.SizeID] = g
			}
			g.Files = append(g.Files, f)
			g.FileCount++
		}
	}

	return m
}

// VariantIDs returns the manifest's variant keys in sorted order
func (m *Manifest) VariantIDs() []string {
	ids := make([]string, 0, len(m.Variants))
	for id := range m.Variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func manifestEntry(e FileEntry, size int64) FileManifest {
	return FileManifest{
		Filename:    path.Base(e.ArchivePath),
		Path:        e.ArchivePath,
		VariantID:   e.VariantID,
		SizeID:      e.SizeID,
		Width:       e.Width,
		Height:      e.Height,
		Format:      e.Format,
		SizeInBytes: size,
	}
}
