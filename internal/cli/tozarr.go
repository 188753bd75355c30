package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ome2zarr/bridge/bytesource"
	"github.com/ome2zarr/bridge/omexml"
	"github.com/ome2zarr/bridge/pyramid"
	"github.com/ome2zarr/bridge/tifffile"
	"github.com/ome2zarr/bridge/tifftag"
	"github.com/ome2zarr/bridge/zarrkey"
)

// NewToZarrCmd builds "to-zarr <in.ome.tiff> <out-dir>", which materializes
// the full Zarr v3 store key space of the input file onto a directory
// store.
func NewToZarrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "to-zarr <in.ome.tiff> <out-dir>",
		Short: "Materialize an OME-TIFF as a Zarr v3 directory store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToZarr(cmd.Context(), args[0], args[1])
		},
	}
}

func runToZarr(ctx context.Context, inPath, outDir string) error {
	src, f, err := bytesource.OpenFile(inPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", inPath, err)
	}
	defer f.Close()

	file, err := tifffile.Open(ctx, src)
	if err != nil {
		return fmt.Errorf("open tiff: %w", err)
	}
	chain, err := file.Chain(ctx)
	if err != nil {
		return fmt.Errorf("walk IFD chain: %w", err)
	}
	if len(chain) == 0 {
		return fmt.Errorf("%s: no IFDs", inPath)
	}

	desc := chain[0].String(tifftag.ImageDescription)
	doc, err := omexml.Parse([]byte(desc))
	if err != nil {
		return fmt.Errorf("parse OME-XML: %w", err)
	}

	idx, err := pyramid.Build(ctx, file, doc)
	if err != nil {
		return fmt.Errorf("build pyramid index: %w", err)
	}

	name := strippedBase(inPath)
	facade, err := zarrkey.Build(ctx, file, idx, name, nil)
	if err != nil {
		return fmt.Errorf("build zarr facade: %w", err)
	}

	keys := []string{"zarr.json"}
	for level := 0; level < facade.Levels(); level++ {
		keys = append(keys, fmt.Sprintf("%d/zarr.json", level))
		keys = append(keys, facade.ChunkKeys(level)...)
	}

	written := 0
	for _, key := range keys {
		data, found, err := facade.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		if !found {
			continue
		}
		dest := filepath.Join(outDir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("mkdir for %s: %w", dest, err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
		written++
	}

	slog.Info("wrote zarr store", "out_dir", outDir, "keys", written)
	return nil
}

func strippedBase(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".ome.tiff", ".ome.tif", ".tiff", ".tif"} {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return base
}
