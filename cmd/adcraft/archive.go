package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/adcraft/internal/campaign"
	"github.com/foxzi/adcraft/internal/export"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect, unpack and build campaign archives",
}

var archiveListCmd = &cobra.Command{
	Use:   "list <archive.zip>",
	Short: "List archive entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveList,
}

var archiveManifestCmd = &cobra.Command{
	Use:   "manifest <archive.zip>",
	Short: "Print the campaign manifest stored in an archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveManifest,
}

var archiveExtractCmd = &cobra.Command{
	Use:   "extract <archive.zip> <dir>",
	Short: "Extract an archive into a directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runArchiveExtract,
}

var archivePackCmd = &cobra.Command{
	Use:   "pack <dir> <archive.zip>",
	Short: "Package rendered images from a directory with a file manifest",
	Args:  cobra.ExactArgs(2),
	RunE:  runArchivePack,
}

var (
	packLevel    int
	packManifest bool
)

func init() {
	archivePackCmd.Flags().IntVar(&packLevel, "level", export.DefaultCompressionLevel, "Compression level 0-9 (0 stores files)")
	archivePackCmd.Flags().BoolVar(&packManifest, "manifest", true, "Add "+export.ManifestName+" describing the packed files")

	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveManifestCmd)
	archiveCmd.AddCommand(archiveExtractCmd)
	archiveCmd.AddCommand(archivePackCmd)
}

func runArchiveList(cmd *cobra.Command, args []string) error {
	entries, err := export.List(args[0])
	if err != nil {
		return err
	}

	var total, compressed int64
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Name, export.FormatBytes(e.Size), export.FormatBytes(e.CompressedSize)})
		total += e.Size
		compressed += e.CompressedSize
	}
	fmt.Println(renderTable([]string{"Name", "Size", "Compressed"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight}))
	fmt.Printf("%d files, %s (%s compressed)\n", len(entries), export.FormatBytes(total), export.FormatBytes(compressed))
	return nil
}

func runArchiveManifest(cmd *cobra.Command, args []string) error {
	var m campaign.Manifest
	found, err := export.ReadJSONEntry(args[0], campaign.ManifestFile, &m)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s has no %s", args[0], campaign.ManifestFile)
	}

	fmt.Printf("Campaign:  %s (%s)\n", m.Campaign.Name, m.Campaign.ID)
	fmt.Printf("Generated: %s\n", m.Campaign.GeneratedAt)
	fmt.Printf("Assets:    %d completed, %d failed, %d total\n",
		m.Stats.CompletedAssets, m.Stats.FailedAssets, m.Stats.TotalAssets)
	fmt.Println()

	variantNames := make(map[string]string, len(m.Variants))
	for _, v := range m.Variants {
		variantNames[v.ID] = v.Name
	}

	rows := make([][]string, 0, len(m.Assets))
	for _, a := range m.Assets {
		file := a.FilePath
		if a.Error != "" {
			file = a.Error
		}
		rows = append(rows, []string{
			variantNames[a.VariantID],
			a.SizeID,
			strconv.Itoa(a.Width) + "x" + strconv.Itoa(a.Height),
			a.Status,
			file,
		})
	}
	fmt.Println(renderTable([]string{"Variant", "Size", "Pixels", "Status", "File"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
	return nil
}

func runArchiveExtract(cmd *cobra.Command, args []string) error {
	n, err := export.Extract(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Extracted %d files to %s\n", n, args[1])
	return nil
}

func runArchivePack(cmd *cobra.Command, args []string) error {
	files, err := collectImages(args[0])
	if err != nil {
		return err
	}

	res, err := export.CreateZip(files, export.Options{
		OutputPath:      args[1],
		Level:           packLevel,
		IncludeManifest: packManifest,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Packed %d files into %s\n", res.TotalFiles, res.ZipPath)
	fmt.Printf("  Size: %s -> %s (%s saved)\n",
		export.FormatBytes(res.TotalSizeBytes),
		export.FormatBytes(res.ZipSizeBytes),
		export.FormatCompressionRatio(res.CompressionRatio),
	)
	for _, name := range res.Skipped {
		fmt.Printf("  Skipped (missing): %s\n", name)
	}
	return nil
}

// collectImages lists the rendered images under dir as archive entries.
// The first path segment is taken as the variant folder.
func collectImages(dir string) ([]export.FileEntry, error) {
	var files []export.FileEntry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		format := strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
		switch format {
		case "png", "jpeg", "jpg", "webp":
		default:
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		entry := export.FileEntry{SourcePath: p, ArchivePath: rel, Format: format}
		if i := strings.Index(rel, "/"); i > 0 {
			entry.VariantID = rel[:i]
		}
		files = append(files, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	return files, nil
}
