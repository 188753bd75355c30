// Package omewrite implements component H: the write orchestrator that
// drives the dtype registry, OME-XML generator, and TIFF container codec
// forward to turn a Multiscale description plus a plane-reader callback
// into a complete OME-TIFF.
package omewrite

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ome2zarr/bridge/dtype"
	"github.com/ome2zarr/bridge/internal/errs"
	"github.com/ome2zarr/bridge/multiscale"
	"github.com/ome2zarr/bridge/omexml"
	"github.com/ome2zarr/bridge/pyramid"
	"github.com/ome2zarr/bridge/tifffile"
)

// defaultConcurrency is the bounded plane-build fan-out used when Options
// does not specify one.
const defaultConcurrency = 4

// Options configures one Write call.
type Options struct {
	// Concurrency bounds how many IFD builds run at once. Zero means
	// defaultConcurrency.
	Concurrency int
	Compress    bool
	// DeflateLevel is forwarded to the deflate codec; zero means the
	// codec's default.
	DeflateLevel int
	Format       tifffile.WriteFormat
	// TileSize is forwarded to every plane descriptor; zero means
	// single-strip layout.
	TileSize int
	Creator  string
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return defaultConcurrency
	}
	return o.Concurrency
}

// Write builds a complete OME-TIFF from ms using the given DimensionOrder
// for both the generated OME-XML and the IFD enumeration, and returns the
// assembled file bytes.
func Write(ctx context.Context, ms *multiscale.Multiscale, order omexml.DimensionOrder, name string, opts Options) ([]byte, error) {
	if len(ms.Levels) == 0 {
		return nil, errs.New(errs.UnsupportedTagCombination, "multiscale has no levels")
	}

	sizeC, sizeZ, sizeT, err := nonSpatialSizes(ms.Levels[0])
	if err != nil {
		return nil, err
	}

	omeXML, err := omexml.Generate(ms, ms.Levels[0].Dtype, order, opts.Creator, name)
	if err != nil {
		return nil, err
	}

	// Enumerate IFDs and invert the DimensionOrder decomposition to
	// recover each slot's (c, z, t), exactly mirroring the indexer so a
	// reader built over the emitted file resolves the same planes back.
	totalPlanes := sizeC * sizeZ * sizeT
	descriptors := make([]*tifffile.PlaneDescriptor, totalPlanes)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency())
	for k := 0; k < totalPlanes; k++ {
		k := k
		g.Go(func() error {
			c, z, t := pyramid.InvertPlaneIndex(order, sizeC, sizeZ, sizeT, k)
			desc, err := buildPlaneDescriptor(gctx, ms, c, z, t, opts.TileSize)
			if err != nil {
				return err
			}
			if k == 0 {
				desc.ImageDescription = omeXML
			}
			descriptors[k] = desc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return tifffile.Write(ctx, descriptors, tifffile.WriteOptions{
		Compress:     opts.Compress,
		DeflateLevel: opts.DeflateLevel,
		Format:       opts.Format,
	})
}

// buildPlaneDescriptor reads plane (c, z, t) at every pyramid level and
// assembles the main descriptor plus its SubIFD chain, every sub-resolution
// descriptor implicitly carrying NewSubfileType=1.
func buildPlaneDescriptor(ctx context.Context, ms *multiscale.Multiscale, c, z, t, tileSize int) (*tifffile.PlaneDescriptor, error) {
	desc, err := readLevel(ctx, ms, 0, c, z, t, tileSize)
	if err != nil {
		return nil, err
	}
	for level := 1; level < len(ms.Levels); level++ {
		sub, err := readLevel(ctx, ms, level, c, z, t, tileSize)
		if err != nil {
			return nil, err
		}
		desc.Subresolutions = append(desc.Subresolutions, sub)
	}
	return desc, nil
}

func readLevel(ctx context.Context, ms *multiscale.Multiscale, level, c, z, t, tileSize int) (*tifffile.PlaneDescriptor, error) {
	lvl := ms.Levels[level]
	width, height, err := spatialShape(lvl)
	if err != nil {
		return nil, err
	}
	sampleFormat, bits, err := dtype.ArrayDtypeToTiff(lvl.Dtype)
	if err != nil {
		return nil, err
	}
	pixels, err := lvl.Reader(ctx, level, c, z, t)
	if err != nil {
		return nil, err
	}
	return &tifffile.PlaneDescriptor{
		Width: width, Height: height,
		BitsPerSample: bits, SampleFormat: int(sampleFormat),
		Pixels:   pixels,
		TileSize: tileSize,
	}, nil
}

// nonSpatialSizes reads sizeC/sizeZ/sizeT off level 0's DimensionNames and
// Shape, also validating that x/y are present and positive.
func nonSpatialSizes(level multiscale.MultiscaleImage) (sizeC, sizeZ, sizeT int, err error) {
	sizes := map[string]int{"x": 0, "y": 0, "z": 1, "c": 1, "t": 1}
	for i, dim := range level.DimensionNames {
		if i < len(level.Shape) {
			sizes[dim] = level.Shape[i]
		}
	}
	if sizes["x"] <= 0 || sizes["y"] <= 0 {
		return 0, 0, 0, errs.New(errs.UnsupportedTagCombination, "multiscale level 0 has non-positive x/y shape")
	}
	return sizes["c"], sizes["z"], sizes["t"], nil
}

func spatialShape(level multiscale.MultiscaleImage) (width, height int, err error) {
	for i, dim := range level.DimensionNames {
		if i >= len(level.Shape) {
			continue
		}
		switch dim {
		case "x":
			width = level.Shape[i]
		case "y":
			height = level.Shape[i]
		}
	}
	if width <= 0 || height <= 0 {
		return 0, 0, errs.New(errs.UnsupportedTagCombination, "multiscale level has non-positive x/y shape")
	}
	return width, height, nil
}
