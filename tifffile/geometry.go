package tifffile

import (
	"github.com/ome2zarr/bridge/compression"
	"github.com/ome2zarr/bridge/internal/errs"
	"github.com/ome2zarr/bridge/photometric"
	"github.com/ome2zarr/bridge/planarconfig"
	"github.com/ome2zarr/bridge/tifftag"
)

// Geometry is the resolved pixel-layout description of one IFD: enough to
// compute tile/strip boundaries and decode a window without re-reading the
// entry map on every access.
type Geometry struct {
	Width, Height   int
	BitsPerSample   int
	SampleFormat    int
	Compression     compression.Type
	Photometric     photometric.Interpretation
	PlanarConfig    planarconfig.Type
	SamplesPerPixel int

	Tiled      bool
	TileWidth  int
	TileLength int

	RowsPerStrip int

	Offsets    []uint64
	ByteCounts []uint64
}

// BytesPerSample returns BitsPerSample/8.
func (g *Geometry) BytesPerSample() int {
	return g.BitsPerSample / 8
}

// Geometry resolves ifd's pixel layout. UnsupportedTagCombination is
// returned when an IFD carries both tile and strip tags, neither, or an
// unsupported compression.
func (ifd *IFD) Geometry() (*Geometry, error) {
	g := &Geometry{
		Width:           int(ifd.Uint32(tifftag.ImageWidth, 0)),
		Height:          int(ifd.Uint32(tifftag.ImageLength, 0)),
		BitsPerSample:   int(ifd.Uint32(tifftag.BitsPerSample, 8)),
		SampleFormat:    int(ifd.Uint32(tifftag.SampleFormat, 1)),
		Compression:     compression.Type(ifd.Uint32(tifftag.Compression, uint32(compression.None))),
		Photometric:     photometric.Interpretation(ifd.Uint32(tifftag.PhotometricInterpretation, uint32(photometric.BlackIsZero))),
		PlanarConfig:    planarconfig.Type(ifd.Uint32(tifftag.PlanarConfiguration, uint32(planarconfig.Contig))),
		SamplesPerPixel: int(ifd.Uint32(tifftag.SamplesPerPixel, 1)),
	}
	if g.Width <= 0 || g.Height <= 0 {
		return nil, errs.New(errs.UnsupportedTagCombination, "IFD at offset %d has non-positive dimensions %dx%d", ifd.Offset, g.Width, g.Height)
	}
	if !g.Compression.Supported() {
		return nil, errs.New(errs.UnsupportedTagCombination, "IFD at offset %d uses unsupported compression %s", ifd.Offset, g.Compression)
	}

	hasTile := ifd.Has(tifftag.TileWidth) || ifd.Has(tifftag.TileOffsets)
	hasStrip := ifd.Has(tifftag.RowsPerStrip) || ifd.Has(tifftag.StripOffsets)
	if hasTile == hasStrip {
		return nil, errs.New(errs.UnsupportedTagCombination, "IFD at offset %d must have exactly one of tile or strip layout", ifd.Offset)
	}

	if hasTile {
		g.Tiled = true
		g.TileWidth = int(ifd.Uint32(tifftag.TileWidth, 0))
		g.TileLength = int(ifd.Uint32(tifftag.TileLength, 0))
		if g.TileWidth <= 0 || g.TileLength <= 0 {
			return nil, errs.New(errs.UnsupportedTagCombination, "IFD at offset %d has non-positive tile size", ifd.Offset)
		}
		g.Offsets = ifd.Uint64Slice(tifftag.TileOffsets)
		g.ByteCounts = ifd.Uint64Slice(tifftag.TileByteCounts)
	} else {
		g.RowsPerStrip = int(ifd.Uint32(tifftag.RowsPerStrip, g.Height))
		if g.RowsPerStrip <= 0 {
			g.RowsPerStrip = g.Height
		}
		g.TileWidth = g.Width
		g.TileLength = g.RowsPerStrip
		g.Offsets = ifd.Uint64Slice(tifftag.StripOffsets)
		g.ByteCounts = ifd.Uint64Slice(tifftag.StripByteCounts)
	}
	if len(g.Offsets) == 0 || len(g.Offsets) != len(g.ByteCounts) {
		return nil, errs.New(errs.UnsupportedTagCombination, "IFD at offset %d has mismatched offset/byte-count arrays", ifd.Offset)
	}
	return g, nil
}

// tilesAcross and tilesDown give the tile grid dimensions (the last row
// and column may be partial).
func (g *Geometry) tilesAcross() int {
	return (g.Width + g.TileWidth - 1) / g.TileWidth
}

func (g *Geometry) tilesDown() int {
	return (g.Height + g.TileLength - 1) / g.TileLength
}

func (g *Geometry) tileIndex(tx, ty int) int {
	return ty*g.tilesAcross() + tx
}
