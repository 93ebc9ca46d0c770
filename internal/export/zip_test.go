package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func testEntries(t *testing.T, dir string) []FileEntry {
	t.Helper()
	files := []FileEntry{
		{ArchivePath: "hero/hero_square.png", VariantID: "hero", SizeID: "instagram-square", Width: 1080, Height: 1080, Format: "png"},
		{ArchivePath: "hero/hero_story.png", VariantID: "hero", SizeID: "instagram-story", Width: 1080, Height: 1920, Format: "png"},
		{ArchivePath: "promo/promo_square.jpeg", VariantID: "promo", SizeID: "instagram-square", Width: 1080, Height: 1080, Format: "jpeg"},
	}
	for i := range files {
		files[i].SourcePath = filepath.Join(dir, "src", filepath.FromSlash(files[i].ArchivePath))
		writeFile(t, files[i].SourcePath, bytes.Repeat([]byte("adcraft "), 512))
	}
	return files
}

func TestCreateZipWithManifest(t *testing.T) {
	dir := t.TempDir()
	files := testEntries(t, dir)
	zipPath := filepath.Join(dir, "out", "export.zip")

	res, err := CreateZip(files, DefaultOptions(zipPath))
	if err != nil {
		t.Fatalf("CreateZip failed: %v", err)
	}
	if res.TotalFiles != len(files) {
		t.Errorf("expected %d files, got %d", len(files), res.TotalFiles)
	}
	if res.TotalSizeBytes != int64(3*8*512) {
		t.Errorf("unexpected total size %d", res.TotalSizeBytes)
	}
	if res.CompressionRatio <= 0 || res.CompressionRatio >= 1 {
		t.Errorf("expected ratio in (0,1) for repetitive data, got %f", res.CompressionRatio)
	}

	m, err := ReadManifest(zipPath)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m == nil {
		t.Fatal("expected manifest")
	}
	if m.TotalFiles != len(files) {
		t.Errorf("manifest totalFiles = %d, want %d", m.TotalFiles, len(files))
	}
	for i, f := range m.Files {
		if f.Width != files[i].Width || f.Height != files[i].Height || f.Format != files[i].Format {
			t.Errorf("file %d: got %dx%d %s, want %dx%d %s", i, f.Width, f.Height, f.Format,
				files[i].Width, files[i].Height, files[i].Format)
		}
	}
	if got := m.Variants["hero"].FileCount; got != 2 {
		t.Errorf("hero variant fileCount = %d, want 2", got)
	}
	if got := m.Sizes["instagram-square"].FileCount; got != 2 {
		t.Errorf("square size fileCount = %d, want 2", got)
	}
	if got := m.Sizes["instagram-story"].Height; got != 1920 {
		t.Errorf("story size height = %d, want 1920", got)
	}
	if _, err := time.Parse(time.RFC3339Nano, m.ExportDate); err != nil {
		t.Errorf("exportDate not RFC3339: %q", m.ExportDate)
	}
}

func TestCreateZipWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	files := testEntries(t, dir)
	zipPath := filepath.Join(dir, "export.zip")

	opts := DefaultOptions(zipPath)
	opts.IncludeManifest = false
	if _, err := CreateZip(files, opts); err != nil {
		t.Fatalf("CreateZip failed: %v", err)
	}

	m, err := ReadManifest(zipPath)
	if err != nil {
		t.Fatalf("ReadManifest failed: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil manifest, got %+v", m)
	}
}

func TestCreateZipSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	files := testEntries(t, dir)
	missing := filepath.Join(dir, "src", "gone.png")
	files = append(files, FileEntry{SourcePath: missing, ArchivePath: "gone.png", Format: "png"})

	res, err := CreateZip(files, DefaultOptions(filepath.Join(dir, "export.zip")))
	if err != nil {
		t.Fatalf("CreateZip failed: %v", err)
	}
	if res.TotalFiles != 3 {
		t.Errorf("expected 3 files, got %d", res.TotalFiles)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != missing {
		t.Errorf("expected skipped [%s], got %v", missing, res.Skipped)
	}
}

func TestCreateZipErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := CreateZip(nil, DefaultOptions(filepath.Join(dir, "a.zip"))); !errors.Is(err, ErrNoFiles) {
		t.Errorf("expected ErrNoFiles, got %v", err)
	}

	onlyMissing := []FileEntry{{SourcePath: filepath.Join(dir, "nope.png"), ArchivePath: "nope.png"}}
	if _, err := CreateZip(onlyMissing, DefaultOptions(filepath.Join(dir, "b.zip"))); !errors.Is(err, ErrNoFiles) {
		t.Errorf("expected ErrNoFiles, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.zip")); !os.IsNotExist(err) {
		t.Error("expected empty archive to be removed")
	}

	files := testEntries(t, dir)
	opts := DefaultOptions(filepath.Join(dir, "c.zip"))
	opts.Level = 12
	if _, err := CreateZip(files, opts); !errors.Is(err, ErrInvalidLevel) {
		t.Errorf("expected ErrInvalidLevel, got %v", err)
	}
}

func TestCreateZipRemovesPartialArchive(t *testing.T) {
	dir := t.TempDir()
	files := testEntries(t, dir)

	// a directory passes the stat check but fails while copying
	bad := filepath.Join(dir, "src", "broken.png")
	if err := os.MkdirAll(bad, 0755); err != nil {
		t.Fatal(err)
	}
	files = append(files, FileEntry{SourcePath: bad, ArchivePath: "broken.png", Format: "png"})

	out := filepath.Join(dir, "partial.zip")
	if _, err := CreateZip(files, DefaultOptions(out)); err == nil {
		t.Fatal("expected copy error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("expected partial archive to be removed")
	}
}

func TestCreateZipFromDirectoryRemovesPartialArchive(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out", "export.zip")

	if _, err := CreateZipFromDirectory(filepath.Join(dir, "missing"), out, 6); err == nil {
		t.Fatal("expected walk error")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("expected partial archive to be removed")
	}
}

func TestStoreLevel(t *testing.T) {
	dir := t.TempDir()
	files := testEntries(t, dir)
	zipPath := filepath.Join(dir, "stored.zip")

	opts := DefaultOptions(zipPath)
	opts.Level = 0
	if _, err := CreateZip(files, opts); err != nil {
		t.Fatalf("CreateZip failed: %v", err)
	}

	entries, err := List(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.CompressedMethod != zip.Store {
			t.Errorf("%s: expected stored entry, got method %d", e.Name, e.CompressedMethod)
		}
	}
}

func TestCreateZipFromDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "campaign")
	writeFile(t, filepath.Join(src, "a", "one.png"), []byte("one"))
	writeFile(t, filepath.Join(src, "b", "two.png"), []byte("two!"))
	writeFile(t, filepath.Join(src, "manifest.json"), []byte("{}"))
	writeFile(t, filepath.Join(src, ".gen.lock"), nil)

	zipPath := filepath.Join(src, "campaign.zip")
	res, err := CreateZipFromDirectory(src, zipPath, DefaultCompressionLevel)
	if err != nil {
		t.Fatalf("CreateZipFromDirectory failed: %v", err)
	}
	if res.TotalFiles != 3 {
		t.Errorf("expected 3 files, got %d", res.TotalFiles)
	}
	if res.TotalSizeBytes != 9 {
		t.Errorf("expected 9 bytes, got %d", res.TotalSizeBytes)
	}

	entries, err := List(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	for _, want := range []string{"a/one.png", "b/two.png", "manifest.json"} {
		if !names[want] {
			t.Errorf("missing entry %s in %v", want, names)
		}
	}
	if names["campaign.zip"] || names[".gen.lock"] {
		t.Errorf("archive contains itself or lock file: %v", names)
	}
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	files := testEntries(t, dir)
	zipPath := filepath.Join(dir, "export.zip")
	if _, err := CreateZip(files, DefaultOptions(zipPath)); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "extracted")
	n, err := Extract(zipPath, dest)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 files (3 + manifest), got %d", n)
	}
	data, err := os.ReadFile(filepath.Join(dest, "hero", "hero_story.png"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 8*512 {
		t.Errorf("unexpected extracted size %d", len(data))
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")

	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("../escape.txt")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("x"))
	zw.Close()
	f.Close()

	if _, err := Extract(zipPath, filepath.Join(dir, "dest")); err == nil {
		t.Fatal("expected error for path traversal")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Error("file escaped destination")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{-1, "0 B"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatCompressionRatio(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.375, "62.5%"},
		{1, "0.0%"},
		{1.2, "0.0%"},
		{0, "100.0%"},
	}
	for _, tt := range tests {
		if got := FormatCompressionRatio(tt.in); got != tt.want {
			t.Errorf("FormatCompressionRatio(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
