package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ome2zarr/bridge/bytesource"
	"github.com/ome2zarr/bridge/omexml"
	"github.com/ome2zarr/bridge/pyramid"
	"github.com/ome2zarr/bridge/tifffile"
	"github.com/ome2zarr/bridge/tifftag"
)

// NewInspectCmd builds "inspect <file.ome.tiff>", which logs the detected
// pyramid strategy, level geometry, and OME-XML pixel metadata.
func NewInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.ome.tiff>",
		Short: "Print the detected pyramid layout and OME metadata of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), args[0])
		},
	}
}

func runInspect(ctx context.Context, path string) error {
	src, f, err := bytesource.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
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
		return fmt.Errorf("%s: no IFDs", path)
	}

	desc := chain[0].String(tifftag.ImageDescription)
	if !omexml.IsOmeXML([]byte(desc)) {
		return fmt.Errorf("%s: ImageDescription is not OME-XML", path)
	}
	doc, err := omexml.Parse([]byte(desc))
	if err != nil {
		return fmt.Errorf("parse OME-XML: %w", err)
	}

	idx, err := pyramid.Build(ctx, file, doc)
	if err != nil {
		return fmt.Errorf("build pyramid index: %w", err)
	}

	p := doc.Images[0].Pixels
	slog.Info("inspected file",
		"path", path,
		"ifds", len(chain),
		"strategy", idx.Strategy().String(),
		"levels", idx.Levels(),
		"dimension_order", string(p.DimensionOrder),
		"size_x", p.SizeX, "size_y", p.SizeY,
		"size_c", p.SizeC, "size_z", p.SizeZ, "size_t", p.SizeT,
		"element_type", p.Type,
		"channels", len(p.Channels),
	)
	return nil
}
