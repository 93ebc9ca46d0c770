package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// DefaultCompressionLevel is used when Options are not given explicitly
const DefaultCompressionLevel = 9

var (
	// ErrNoFiles is returned when there is nothing to archive
	ErrNoFiles = errors.New("no files to archive")
	// ErrInvalidLevel is returned for compression levels outside 0-9
	ErrInvalidLevel = errors.New("compression level must be between 0 and 9")
)

// FileEntry maps a file on disk to its path inside the archive
type FileEntry struct {
	SourcePath  string
	ArchivePath string
	VariantID   string
	SizeID      string
	Width       int
	Height      int
	Format      string
}

// Options configures archive creation
type Options struct {
	OutputPath string
	// Level is the deflate level; 0 stores entries uncompressed
	Level           int
	IncludeManifest bool
	Organization    Organization
	Logger          *slog.Logger
}

// DefaultOptions returns options with maximum compression and a manifest
func DefaultOptions(outputPath string) Options {
	return Options{
		OutputPath:      outputPath,
		Level:           DefaultCompressionLevel,
		IncludeManifest: true,
	}
}

// Result describes a written archive
type Result struct {
	ZipPath        string `json:"zip_path"`
	TotalFiles     int    `json:"total_files"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	ZipSizeBytes   int64  `json:"zip_size_bytes"`
	// CompressionRatio is compressed/uncompressed, lower means better compression
	CompressionRatio float64  `json:"compression_ratio"`
	Skipped          []string `json:"skipped,omitempty"`
}

// CreateZip writes the given files into a new archive at opts.OutputPath.
// Source files missing on disk are skipped and reported in Result.Skipped.
// On error no archive is left behind.
func CreateZip(files []FileEntry, opts Options) (_ *Result, err error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	zw, out, err := newWriter(opts.OutputPath, opts.Level)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	defer discardOnError(&err, zw, out)

	res := &Result{ZipPath: opts.OutputPath}
	var manifestFiles []FileManifest

	for _, f := range files {
		info, err := os.Stat(f.SourcePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Warn("skipping missing file", "source", f.SourcePath, "archive_path", f.ArchivePath)
				res.Skipped = append(res.Skipped, f.SourcePath)
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", f.SourcePath, err)
		}

		if err := addFile(zw, f.SourcePath, f.ArchivePath, info, opts.Level); err != nil {
			return nil, err
		}
		res.TotalFiles++
		res.TotalSizeBytes += info.Size()
		manifestFiles = append(manifestFiles, manifestEntry(f, info.Size()))
	}

	if res.TotalFiles == 0 {
		return nil, ErrNoFiles
	}

	if opts.IncludeManifest {
		m := BuildManifest(manifestFiles, opts.Organization, time.Now())
		if err := addJSON(zw, ManifestName, m, opts.Level); err != nil {
			return nil, err
		}
	}

	if err := finish(zw, out, res); err != nil {
		return nil, err
	}
	return res, nil
}

// CreateZipFromDirectory archives every regular file under sourceDir.
// The output archive itself and lock files are not included.
func CreateZipFromDirectory(sourceDir, outputPath string, level int) (_ *Result, err error) {
	absOut, err := filepath.Abs(outputPath)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}

	zw, out, err := newWriter(outputPath, level)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	defer discardOnError(&err, zw, out)

	res := &Result{ZipPath: outputPath}

	walkErr := filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if abs, _ := filepath.Abs(p); abs == absOut {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".lock") {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := addFile(zw, p, filepath.ToSlash(rel), info, level); err != nil {
			return err
		}
		res.TotalFiles++
		res.TotalSizeBytes += info.Size()
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", sourceDir, walkErr)
	}

	if err := finish(zw, out, res); err != nil {
		return nil, err
	}
	return res, nil
}

func newWriter(outputPath string, level int) (*zip.Writer, *os.File, error) {
	if level < 0 || level > 9 {
		return nil, nil, ErrInvalidLevel
	}
	if outputPath == "" {
		return nil, nil, errors.New("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("create output directory: %w", err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})
	return zw, out, nil
}

// method picks Store for level 0 so entries are written verbatim
func method(level int) uint16 {
	if level == 0 {
		return zip.Store
	}
	return zip.Deflate
}

func addFile(zw *zip.Writer, src, name string, info fs.FileInfo, level int) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", src, err)
	}
	hdr.Name = name
	hdr.Method = method(level)

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func addJSON(zw *zip.Writer, name string, v any, level int) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method(level), Modified: time.Now()})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// discardOnError removes a partially written archive when *errp is set
func discardOnError(errp *error, zw *zip.Writer, out *os.File) {
	if *errp == nil {
		return
	}
	zw.Close()
	out.Close()
	os.Remove(out.Name())
}

func finish(zw *zip.Writer, out *os.File, res *Result) error {
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	info, err := out.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	res.ZipSizeBytes = info.Size()
	if res.TotalSizeBytes > 0 {
		res.CompressionRatio = float64(res.ZipSizeBytes) / float64(res.TotalSizeBytes)
	}
	return nil
}
