package tifffile

import (
	"context"
	"encoding/binary"

	"github.com/ome2zarr/bridge/compression"
	"github.com/ome2zarr/bridge/deflate"
	"github.com/ome2zarr/bridge/internal/errs"
	"github.com/ome2zarr/bridge/photometric"
	"github.com/ome2zarr/bridge/planarconfig"
	"github.com/ome2zarr/bridge/tifftag"
)

// WriteFormat selects the container flavor the writer targets.
type WriteFormat int

const (
	FormatAuto WriteFormat = iota
	FormatClassic
	FormatBigTIFF
)

// bigTIFFThreshold is the size past which classic TIFF's 32-bit offsets
// can no longer address the file; the writer upgrades to BigTIFF past
// this point unless a format is forced.
const bigTIFFThreshold = 3_900_000_000

// perIFDOverheadEstimate is the conservative per-IFD byte budget (entry
// block plus overflow) used for the worst-case size estimate ahead of
// actual placement.
const perIFDOverheadEstimate = 4096

// PlaneDescriptor is one IFD's worth of pixel data and layout preference,
// as handed to the writer by the orchestrator.
type PlaneDescriptor struct {
	Width, Height    int
	BitsPerSample    int
	SampleFormat     int
	Pixels           []byte // dense, row-major, tightly packed
	TileSize         int    // 0 selects a single-strip layout
	ImageDescription []byte // set only on the chain's first descriptor

	// Subresolutions become this descriptor's SubIFDs: nested pyramid
	// levels attached to, but not chained after, this IFD.
	Subresolutions []*PlaneDescriptor
}

// WriteOptions controls compression and container-format selection.
type WriteOptions struct {
	Compress     bool
	DeflateLevel int
	Format       WriteFormat
}

func (o WriteOptions) effectiveLevel() int {
	if o.DeflateLevel <= 0 {
		return deflate.DefaultLevel
	}
	return o.DeflateLevel
}

// Write assembles a complete classic-or-BigTIFF byte buffer from planes,
// following a resolve/place/write pipeline.
func Write(ctx context.Context, planes []*PlaneDescriptor, opts WriteOptions) ([]byte, error) {
	if len(planes) == 0 {
		return nil, errs.New(errs.UnsupportedTagCombination, "cannot write a TIFF with no IFDs")
	}

	prepared := make([]*preparedPlane, len(planes))
	var totalTileBytes uint64
	var totalIFDCount int
	for i, d := range planes {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.Cancelled, err, "write cancelled during tile preparation")
		}
		pp, err := preparePlane(d, opts.Compress, opts.effectiveLevel())
		if err != nil {
			return nil, err
		}
		prepared[i] = pp
		totalTileBytes += sumTileBytes(pp)
		totalIFDCount += countIFDs(pp)
	}
	estimate := totalTileBytes + uint64(totalIFDCount)*perIFDOverheadEstimate

	if opts.Format == FormatClassic && estimate > bigTIFFThreshold {
		return nil, errs.New(errs.FileTooLarge, "estimated size %d exceeds classic TIFF limit with format=classic forced", estimate)
	}
	bigTIFF := opts.Format == FormatBigTIFF || (opts.Format == FormatAuto && estimate > bigTIFFThreshold)

	buf, err := assemble(prepared, bigTIFF)
	if err != nil {
		return nil, err
	}
	if !bigTIFF && opts.Format == FormatAuto && uint64(len(buf)) > bigTIFFThreshold {
		bigTIFF = true
		if buf, err = assemble(prepared, bigTIFF); err != nil {
			return nil, err
		}
	}
	if opts.Format == FormatClassic && uint64(len(buf)) > bigTIFFThreshold {
		return nil, errs.New(errs.FileTooLarge, "assembled classic TIFF size %d exceeds limit", len(buf))
	}
	return buf, nil
}

// BuildTiles splits a dense pixel buffer into tileSize x tileSize tiles
// (tileSize <= 0 selects a single strip covering the whole image),
// zero-padding right/bottom edges, enumerated row-major.
func BuildTiles(pixels []byte, width, height, bytesPerSample, tileSize int) (tileWidth, tileLength int, tiles [][]byte) {
	if tileSize <= 0 {
		return width, height, [][]byte{pixels}
	}
	tw, tl := tileSize, tileSize
	across := (width + tw - 1) / tw
	down := (height + tl - 1) / tl
	tiles = make([][]byte, across*down)
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			tile := make([]byte, tw*tl*bytesPerSample)
			left, top := tx*tw, ty*tl
			rows := min(tl, height-top)
			cols := min(tw, width-left)
			rowBytes := cols * bytesPerSample
			for y := 0; y < rows; y++ {
				srcOff := ((top+y)*width + left) * bytesPerSample
				dstOff := (y * tw) * bytesPerSample
				copy(tile[dstOff:dstOff+rowBytes], pixels[srcOff:srcOff+rowBytes])
			}
			tiles[ty*across+tx] = tile
		}
	}
	return tw, tl, tiles
}

// preparedPlane holds one descriptor's tiled-and-optionally-compressed
// pixel data, computed once regardless of the final classic/BigTIFF
// decision (only the IFD entry encoding depends on that choice).
type preparedPlane struct {
	desc                  *PlaneDescriptor
	tileWidth, tileLength int
	tiles                 [][]byte
	byteCounts            []uint64
	compression           compression.Type
	children              []*preparedPlane
}

func preparePlane(desc *PlaneDescriptor, compress bool, level int) (*preparedPlane, error) {
	bps := desc.BitsPerSample / 8
	tw, tl, rawTiles := BuildTiles(desc.Pixels, desc.Width, desc.Height, bps, desc.TileSize)

	comp := compression.None
	tiles := make([][]byte, len(rawTiles))
	byteCounts := make([]uint64, len(rawTiles))
	for i, t := range rawTiles {
		out := t
		if compress {
			comp = compression.Deflate
			c, err := deflate.Compress(t, level)
			if err != nil {
				return nil, err
			}
			out = c
		}
		tiles[i] = out
		byteCounts[i] = uint64(len(out))
	}

	pp := &preparedPlane{
		desc: desc, tileWidth: tw, tileLength: tl,
		tiles: tiles, byteCounts: byteCounts, compression: comp,
	}
	for _, sub := range desc.Subresolutions {
		child, err := preparePlane(sub, compress, level)
		if err != nil {
			return nil, err
		}
		pp.children = append(pp.children, child)
	}
	return pp, nil
}

func sumTileBytes(pp *preparedPlane) uint64 {
	var total uint64
	for _, c := range pp.byteCounts {
		total += c
	}
	for _, child := range pp.children {
		total += sumTileBytes(child)
	}
	return total
}

func countIFDs(pp *preparedPlane) int {
	n := 1
	for _, child := range pp.children {
		n += countIFDs(child)
	}
	return n
}

// ifdPlan is one IFD's resolved (pass 1) entry set: every tag's type and
// count are fixed; only offset-bearing entries (TileOffsets/StripOffsets,
// SubIFDs) carry placeholder payloads until placement assigns addresses.
type ifdPlan struct {
	entries         map[tifftag.Tag]entry
	tiles           [][]byte
	usesTileOffsets bool
	children        []*ifdPlan
}

func makeEntry(typ tifftag.Type, vals ...uint64) entry {
	return entry{Type: typ, Count: uint64(len(vals)), Raw: encodeUints(typ, vals)}
}

func makeASCIIEntry(s []byte) entry {
	raw := append(append([]byte(nil), s...), 0)
	return entry{Type: tifftag.ASCII, Count: uint64(len(raw)), Raw: raw}
}

func makePlaceholderEntry(typ tifftag.Type, count int) entry {
	return entry{Type: typ, Count: uint64(count), Raw: make([]byte, count*typ.Size())}
}

func encodeUints(typ tifftag.Type, vals []uint64) []byte {
	size := typ.Size()
	out := make([]byte, len(vals)*size)
	for i, v := range vals {
		switch size {
		case 1:
			out[i] = byte(v)
		case 2:
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		case 8:
			binary.LittleEndian.PutUint64(out[i*8:], v)
		}
	}
	return out
}

func buildIFDPlan(pp *preparedPlane, bigTIFF, isSubresolution bool) *ifdPlan {
	d := pp.desc
	offsetType := tifftag.Long
	if bigTIFF {
		offsetType = tifftag.Long8
	}

	entries := map[tifftag.Tag]entry{
		tifftag.ImageWidth:                makeEntry(tifftag.Long, uint64(d.Width)),
		tifftag.ImageLength:               makeEntry(tifftag.Long, uint64(d.Height)),
		tifftag.BitsPerSample:             makeEntry(tifftag.Short, uint64(d.BitsPerSample)),
		tifftag.Compression:               makeEntry(tifftag.Short, uint64(pp.compression)),
		tifftag.PhotometricInterpretation: makeEntry(tifftag.Short, uint64(photometric.BlackIsZero)),
		tifftag.SamplesPerPixel:           makeEntry(tifftag.Short, 1),
		tifftag.PlanarConfiguration:       makeEntry(tifftag.Short, uint64(planarconfig.Contig)),
		tifftag.SampleFormat:              makeEntry(tifftag.Short, uint64(d.SampleFormat)),
	}
	if isSubresolution {
		entries[tifftag.NewSubfileType] = makeEntry(tifftag.Long, 1)
	}

	usesTileOffsets := d.TileSize > 0
	if usesTileOffsets {
		entries[tifftag.TileWidth] = makeEntry(tifftag.Long, uint64(pp.tileWidth))
		entries[tifftag.TileLength] = makeEntry(tifftag.Long, uint64(pp.tileLength))
		entries[tifftag.TileOffsets] = makePlaceholderEntry(offsetType, len(pp.tiles))
		entries[tifftag.TileByteCounts] = makeEntry(offsetType, pp.byteCounts...)
	} else {
		entries[tifftag.RowsPerStrip] = makeEntry(tifftag.Long, uint64(pp.tileLength))
		entries[tifftag.StripOffsets] = makePlaceholderEntry(offsetType, len(pp.tiles))
		entries[tifftag.StripByteCounts] = makeEntry(offsetType, pp.byteCounts...)
	}
	if len(d.ImageDescription) > 0 {
		entries[tifftag.ImageDescription] = makeASCIIEntry(d.ImageDescription)
	}

	plan := &ifdPlan{entries: entries, tiles: pp.tiles, usesTileOffsets: usesTileOffsets}
	for _, childPP := range pp.children {
		plan.children = append(plan.children, buildIFDPlan(childPP, bigTIFF, true))
	}
	if len(plan.children) > 0 {
		entries[tifftag.SubIFDs] = makePlaceholderEntry(offsetType, len(plan.children))
	}
	return plan
}

// layoutSizes returns the fixed entry-block size and the total overflow
// region size this plan needs, given the container's offset width.
func (p *ifdPlan) layoutSizes(bigTIFF bool) (entryBlockSize, overflowSize int64) {
	countWidth, entrySize, offsetWidth := 2, 12, 4
	if bigTIFF {
		countWidth, entrySize, offsetWidth = 8, 20, 8
	}
	entryBlockSize = int64(countWidth) + int64(len(p.entries))*int64(entrySize) + int64(offsetWidth)

	threshold := inlineThreshold(bigTIFF)
	for _, e := range p.entries {
		payload := int(e.Count) * e.Type.Size()
		if payload > threshold {
			if payload%2 != 0 {
				payload++
			}
			overflowSize += int64(payload)
		}
	}
	return entryBlockSize, overflowSize
}

// placedIFD is one IFD after pass 2 ("place"): its own and its tiles'
// absolute offsets are fixed.
type placedIFD struct {
	plan           *ifdPlan
	ifdOffset      uint64
	overflowOffset uint64
	tileOffsets    []uint64
	children       []*placedIFD
	nextOffset     uint64
}

func placeIFD(plan *ifdPlan, bigTIFF bool, cursor *uint64) *placedIFD {
	entryBlockSize, overflowSize := plan.layoutSizes(bigTIFF)
	p := &placedIFD{plan: plan, ifdOffset: *cursor}
	*cursor += uint64(entryBlockSize)
	p.overflowOffset = *cursor
	*cursor += uint64(overflowSize)

	p.tileOffsets = make([]uint64, len(plan.tiles))
	for i, t := range plan.tiles {
		p.tileOffsets[i] = *cursor
		*cursor += uint64(len(t))
	}
	for _, child := range plan.children {
		p.children = append(p.children, placeIFD(child, bigTIFF, cursor))
	}
	return p
}

func placeChain(plans []*ifdPlan, bigTIFF bool, headerSize uint64) ([]*placedIFD, uint64) {
	cursor := headerSize
	placedMain := make([]*placedIFD, len(plans))
	for i, plan := range plans {
		placedMain[i] = placeIFD(plan, bigTIFF, &cursor)
	}
	for i := range placedMain {
		if i+1 < len(placedMain) {
			placedMain[i].nextOffset = placedMain[i+1].ifdOffset
		}
	}
	return placedMain, cursor
}

func assemble(prepared []*preparedPlane, bigTIFF bool) ([]byte, error) {
	plans := make([]*ifdPlan, len(prepared))
	for i, pp := range prepared {
		plans[i] = buildIFDPlan(pp, bigTIFF, false)
	}
	headerSize := uint64(classicHeaderSize)
	if bigTIFF {
		headerSize = uint64(bigTIFFHeaderSize)
	}
	placedMain, totalSize := placeChain(plans, bigTIFF, headerSize)

	buf := make([]byte, totalSize)
	writeHeader(buf, bigTIFF, placedMain[0].ifdOffset)
	for _, p := range placedMain {
		writePlacedIFD(buf, p, bigTIFF)
	}
	return buf, nil
}

func writeHeader(buf []byte, bigTIFF bool, firstIFDOffset uint64) {
	buf[0], buf[1] = 'I', 'I'
	if bigTIFF {
		binary.LittleEndian.PutUint16(buf[2:4], magicBigTIFF)
		binary.LittleEndian.PutUint16(buf[4:6], 8)
		binary.LittleEndian.PutUint16(buf[6:8], 0)
		binary.LittleEndian.PutUint64(buf[8:16], firstIFDOffset)
	} else {
		binary.LittleEndian.PutUint16(buf[2:4], magicClassic)
		binary.LittleEndian.PutUint32(buf[4:8], uint32(firstIFDOffset))
	}
}

func writePlacedIFD(buf []byte, p *placedIFD, bigTIFF bool) {
	plan := p.plan
	countWidth, entrySize, offsetWidth := 2, 12, 4
	if bigTIFF {
		countWidth, entrySize, offsetWidth = 8, 20, 8
	}
	threshold := inlineThreshold(bigTIFF)

	offsetType := tifftag.Long
	if bigTIFF {
		offsetType = tifftag.Long8
	}
	offsetsTag := tifftag.StripOffsets
	if plan.usesTileOffsets {
		offsetsTag = tifftag.TileOffsets
	}
	plan.entries[offsetsTag] = entry{Type: offsetType, Count: uint64(len(p.tileOffsets)), Raw: encodeUints(offsetType, p.tileOffsets)}
	if len(p.children) > 0 {
		childOffsets := make([]uint64, len(p.children))
		for i, c := range p.children {
			childOffsets[i] = c.ifdOffset
		}
		plan.entries[tifftag.SubIFDs] = entry{Type: offsetType, Count: uint64(len(childOffsets)), Raw: encodeUints(offsetType, childOffsets)}
	}

	tagIDs := sortedTagIDs(plan.entries)
	if bigTIFF {
		binary.LittleEndian.PutUint64(buf[p.ifdOffset:], uint64(len(tagIDs)))
	} else {
		binary.LittleEndian.PutUint16(buf[p.ifdOffset:], uint16(len(tagIDs)))
	}

	recordBase := p.ifdOffset + uint64(countWidth)
	overflowCursor := p.overflowOffset
	for i, tagID := range tagIDs {
		e := plan.entries[tagID]
		recOff := recordBase + uint64(i*entrySize)
		binary.LittleEndian.PutUint16(buf[recOff:], uint16(tagID))
		binary.LittleEndian.PutUint16(buf[recOff+2:], uint16(e.Type))

		countOff := recOff + 4
		var valueOff uint64
		if bigTIFF {
			valueOff = recOff + 12
			binary.LittleEndian.PutUint64(buf[countOff:], e.Count)
		} else {
			valueOff = recOff + 8
			binary.LittleEndian.PutUint32(buf[countOff:], uint32(e.Count))
		}

		payload := int(e.Count) * e.Type.Size()
		if payload <= threshold {
			copy(buf[valueOff:valueOff+uint64(offsetWidth)], e.Raw)
		} else {
			copy(buf[overflowCursor:overflowCursor+uint64(payload)], e.Raw)
			if bigTIFF {
				binary.LittleEndian.PutUint64(buf[valueOff:], overflowCursor)
			} else {
				binary.LittleEndian.PutUint32(buf[valueOff:], uint32(overflowCursor))
			}
			overflowCursor += uint64(payload)
			if payload%2 != 0 {
				overflowCursor++
			}
		}
	}

	nextOff := recordBase + uint64(len(tagIDs)*entrySize)
	if bigTIFF {
		binary.LittleEndian.PutUint64(buf[nextOff:], p.nextOffset)
	} else {
		binary.LittleEndian.PutUint32(buf[nextOff:], uint32(p.nextOffset))
	}

	for i, t := range p.tileOffsets {
		copy(buf[t:t+uint64(len(plan.tiles[i]))], plan.tiles[i])
	}
	for _, c := range p.children {
		writePlacedIFD(buf, c, bigTIFF)
	}
}
