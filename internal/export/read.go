package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
)

// ReadManifest returns the manifest stored in the archive, or nil when the
// archive has none.
func ReadManifest(zipPath string) (*Manifest, error) {
	var m Manifest
	found, err := ReadJSONEntry(zipPath, ManifestName, &m)
	if err != nil || !found {
		return nil, err
	}
	return &m, nil
}

// ReadJSONEntry decodes the named archive entry into v.
// It reports false without error when the entry does not exist.
func ReadJSONEntry(zipPath, name string, v any) (bool, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return false, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return false, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()

		if err := json.NewDecoder(rc).Decode(v); err != nil {
			return false, fmt.Errorf("decode %s: %w", name, err)
		}
		return true, nil
	}
	return false, nil
}

// Entry is a file listed in an archive
type Entry struct {
	Name             string `json:"name"`
	Size             int64  `json:"size"`
	CompressedSize   int64  `json:"compressed_size"`
	CompressedMethod uint16 `json:"method"`
}

// List returns the file entries of an archive
func List(zipPath string) ([]Entry, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{
			Name:             f.Name,
			Size:             int64(f.UncompressedSize64),
			CompressedSize:   int64(f.CompressedSize64),
			CompressedMethod: f.Method,
		})
	}
	return entries, nil
}

// Extract unpacks the archive into destDir and returns the number of files written.
// Entries that would escape destDir are rejected.
func Extract(zipPath, destDir string) (int, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return 0, fmt.Errorf("resolve destination: %w", err)
	}

	count := 0
	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return count, fmt.Errorf("illegal path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return count, err
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}

// FormatBytes renders a byte count in IEC units, e.g. "1.5 MiB"
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// FormatCompressionRatio renders a compressed/uncompressed ratio as space saved
func FormatCompressionRatio(ratio float64) string {
	saved := (1 - ratio) * 100
	if saved < 0 {
		saved = 0
	}
	return fmt.Sprintf("%.1f%%", saved)
}
