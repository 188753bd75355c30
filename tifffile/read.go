package tifffile

import (
	"context"

	"github.com/ome2zarr/bridge/compression"
	"github.com/ome2zarr/bridge/deflate"
	"github.com/ome2zarr/bridge/internal/errs"
)

// Window is a half-open pixel rectangle [Left, Right) x [Top, Bottom).
type Window struct {
	Left, Top, Right, Bottom int
}

func (w Window) width() int  { return w.Right - w.Left }
func (w Window) height() int { return w.Bottom - w.Top }

// ReadTile returns tile/strip index k's decompressed bytes, exactly
// TileWidth*TileLength*BytesPerSample long (partial edge tiles are still
// padded to the full tile size on write, so a full-size buffer is always
// the right shape to decode into).
func (f *TiffFile) ReadTile(ctx context.Context, g *Geometry, k int) ([]byte, error) {
	if k < 0 || k >= len(g.Offsets) {
		return nil, errs.New(errs.BadOffset, "tile index %d out of range [0,%d)", k, len(g.Offsets))
	}
	raw := make([]byte, g.ByteCounts[k])
	if _, err := f.Source.ReadAt(ctx, raw, int64(g.Offsets[k])); err != nil {
		return nil, errs.Wrap(errs.TruncatedFile, err, "reading tile %d at offset %d", k, g.Offsets[k])
	}
	switch g.Compression {
	case compression.None:
		return raw, nil
	case compression.Deflate:
		out, err := deflate.Decompress(raw)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, errs.New(errs.UnsupportedTagCombination, "cannot decode tile with compression %s", g.Compression)
	}
}

// ReadWindow decodes every tile/strip overlapping win and copies the
// overlapping sub-rectangles into a caller-sized, row-major, tightly
// packed buffer. Pixels outside the image's
// [0,Width)x[0,Height) bounds within win are left zeroed.
func (f *TiffFile) ReadWindow(ctx context.Context, g *Geometry, win Window) ([]byte, error) {
	bps := g.BytesPerSample()
	out := make([]byte, win.width()*win.height()*bps)

	clampedLeft := max(win.Left, 0)
	clampedTop := max(win.Top, 0)
	clampedRight := min(win.Right, g.Width)
	clampedBottom := min(win.Bottom, g.Height)
	if clampedLeft >= clampedRight || clampedTop >= clampedBottom {
		return out, nil
	}

	firstTx := clampedLeft / g.TileWidth
	lastTx := (clampedRight - 1) / g.TileWidth
	firstTy := clampedTop / g.TileLength
	lastTy := (clampedBottom - 1) / g.TileLength

	for ty := firstTy; ty <= lastTy; ty++ {
		for tx := firstTx; tx <= lastTx; tx++ {
			if err := ctx.Err(); err != nil {
				return nil, errs.Wrap(errs.Cancelled, err, "window read cancelled")
			}
			tileData, err := f.ReadTile(ctx, g, g.tileIndex(tx, ty))
			if err != nil {
				return nil, err
			}

			tileLeft := tx * g.TileWidth
			tileTop := ty * g.TileLength
			overlapLeft := max(clampedLeft, tileLeft)
			overlapTop := max(clampedTop, tileTop)
			overlapRight := min(clampedRight, tileLeft+g.TileWidth)
			overlapBottom := min(clampedBottom, tileTop+g.TileLength)

			rowBytes := (overlapRight - overlapLeft) * bps
			for y := overlapTop; y < overlapBottom; y++ {
				srcRowOff := ((y-tileTop)*g.TileWidth + (overlapLeft - tileLeft)) * bps
				dstRowOff := ((y-win.Top)*win.width() + (overlapLeft - win.Left)) * bps
				copy(out[dstRowOff:dstRowOff+rowBytes], tileData[srcRowOff:srcRowOff+rowBytes])
			}
		}
	}
	return out, nil
}

// ReadFull decodes the whole image described by g.
func (f *TiffFile) ReadFull(ctx context.Context, g *Geometry) ([]byte, error) {
	return f.ReadWindow(ctx, g, Window{0, 0, g.Width, g.Height})
}
