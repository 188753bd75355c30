// Package pyramid implements component F: the plane/IFD indexer that maps
// a (PlaneSelection, level) pair to the tifffile IFD holding its pixels,
// across the three pyramid conventions and both single- and multi-file
// OME-TIFF layouts.
package pyramid

import (
	"context"
	"sort"

	"github.com/ome2zarr/bridge/internal/errs"
	"github.com/ome2zarr/bridge/multiscale"
	"github.com/ome2zarr/bridge/omexml"
	"github.com/ome2zarr/bridge/tifftag"
	"github.com/ome2zarr/bridge/tifffile"
)

// Strategy names the pyramid convention a file was detected to use.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategySubIFD
	StrategyLegacyOME
	StrategyCloudOptimised
)

var strategyNames = map[Strategy]string{
	StrategyNone:           "none",
	StrategySubIFD:         "sub-ifd",
	StrategyLegacyOME:      "legacy-ome-chain",
	StrategyCloudOptimised: "cloud-optimised",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

// Index is a built plane/IFD indexer for one opened TiffFile.
type Index struct {
	file           *tifffile.TiffFile
	chain          []*tifffile.IFD
	Pixels         omexml.OmePixels
	strategy       Strategy
	levels         int
	planesPerImage int
	lookup         map[[3]int]int // (localC, localZ, localT) -> chain index of the base IFD
}

// Levels returns the number of pyramid levels this index resolves.
func (idx *Index) Levels() int { return idx.levels }

// Strategy returns the detected pyramid convention.
func (idx *Index) Strategy() Strategy { return idx.strategy }

// Build detects the pyramid convention of f (whose IFD chain has already
// been fully followed) against doc's first Image, and constructs the
// (c,z,t,level) -> IFD indexer.
func Build(ctx context.Context, f *tifffile.TiffFile, doc *omexml.Document) (*Index, error) {
	if len(doc.Images) == 0 {
		return nil, errs.New(errs.InvalidXml, "OME-XML has no Image elements")
	}
	pixels := doc.Images[0].Pixels

	chain, err := f.Chain(ctx)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errs.New(errs.BadOffset, "TIFF has no IFDs")
	}

	idx := &Index{file: f, chain: chain, Pixels: pixels}
	idx.planesPerImage = pixels.SizeC * pixels.SizeZ * pixels.SizeT

	if len(pixels.TiffData) > 0 {
		filtered, lookup, channels, err := filterLocal(pixels, doc.RootUUID)
		if err != nil {
			return nil, err
		}
		filtered.Channels = channels
		idx.Pixels = filtered
		idx.lookup = lookup
		idx.planesPerImage = filtered.SizeC * filtered.SizeZ * filtered.SizeT
	} else {
		idx.lookup = denseLookupFromOrder(pixels)
	}

	base := chain[0]
	switch {
	case len(base.SubIFDOffsets()) > 0:
		idx.strategy = StrategySubIFD
		idx.levels = 1 + len(base.SubIFDOffsets())
	case len(doc.Images) > 1:
		idx.strategy = StrategyLegacyOME
		idx.levels = len(doc.Images)
	case isCloudOptimised(chain):
		idx.strategy = StrategyCloudOptimised
		idx.levels = len(chain)
	default:
		idx.strategy = StrategyNone
		idx.levels = 1
	}
	return idx, nil
}

// Resolve returns the IFD holding sel's pixels at the given level.
func (idx *Index) Resolve(ctx context.Context, sel multiscale.PlaneSelection, level int) (*tifffile.IFD, error) {
	if level < 0 || level >= idx.levels {
		return nil, errs.New(errs.NoSuchLevel, "level %d out of range [0,%d)", level, idx.levels)
	}
	chainIdx, ok := idx.lookup[[3]int{sel.C, sel.Z, sel.T}]
	if !ok || chainIdx < 0 || chainIdx >= len(idx.chain) {
		return nil, errs.New(errs.NoSuchPlane, "no IFD for (c=%d,z=%d,t=%d)", sel.C, sel.Z, sel.T)
	}
	baseIFD := idx.chain[chainIdx]
	if level == 0 {
		return baseIFD, nil
	}

	switch idx.strategy {
	case StrategySubIFD:
		subs := baseIFD.SubIFDOffsets()
		if level-1 >= len(subs) {
			return nil, errs.New(errs.NoSuchLevel, "SubIFD level %d missing for plane (c=%d,z=%d,t=%d)", level, sel.C, sel.Z, sel.T)
		}
		return idx.file.ReadIFD(ctx, subs[level-1])
	case StrategyLegacyOME, StrategyCloudOptimised:
		offset := chainIdx + level*max(idx.planesPerImage, 1)
		if offset < 0 || offset >= len(idx.chain) {
			return nil, errs.New(errs.NoSuchLevel, "pyramid level %d out of range", level)
		}
		return idx.chain[offset], nil
	default:
		return nil, errs.New(errs.NoSuchLevel, "file has no pyramid levels beyond 0")
	}
}

// PlaneIndex computes the DimensionOrder-dependent IFD index for (c,z,t)
// within one image's plane block.
func PlaneIndex(order omexml.DimensionOrder, sizeC, sizeZ, sizeT, c, z, t int) int {
	tail := order.Tail()
	sizes := dimSizes(sizeC, sizeZ, sizeT)
	values := dimValues(c, z, t)
	s0, s1 := sizes[tail[0]], sizes[tail[1]]
	i0, i1, i2 := values[tail[0]], values[tail[1]], values[tail[2]]
	return i0 + s0*i1 + s0*s1*i2
}

// InvertPlaneIndex is the exact inverse of PlaneIndex, recovering (c,z,t)
// from a plane index.
func InvertPlaneIndex(order omexml.DimensionOrder, sizeC, sizeZ, sizeT, k int) (c, z, t int) {
	tail := order.Tail()
	sizes := dimSizes(sizeC, sizeZ, sizeT)
	s0, s1 := sizes[tail[0]], sizes[tail[1]]
	i0 := k % max(s0, 1)
	rem := k / max(s0, 1)
	i1 := rem % max(s1, 1)
	i2 := rem / max(s1, 1)
	result := map[byte]int{tail[0]: i0, tail[1]: i1, tail[2]: i2}
	return result['C'], result['Z'], result['T']
}

func dimSizes(sizeC, sizeZ, sizeT int) map[byte]int {
	return map[byte]int{'C': sizeC, 'Z': sizeZ, 'T': sizeT}
}

func dimValues(c, z, t int) map[byte]int {
	return map[byte]int{'C': c, 'Z': z, 'T': t}
}

func denseLookupFromOrder(pixels omexml.OmePixels) map[[3]int]int {
	lookup := make(map[[3]int]int)
	total := pixels.SizeC * pixels.SizeZ * pixels.SizeT
	for k := 0; k < total; k++ {
		c, z, t := InvertPlaneIndex(pixels.DimensionOrder, pixels.SizeC, pixels.SizeZ, pixels.SizeT, k)
		lookup[[3]int{c, z, t}] = k
	}
	return lookup
}

func isCloudOptimised(chain []*tifffile.IFD) bool {
	if len(chain) < 2 {
		return false
	}
	prevW := int(chain[0].Uint32(tifftag.ImageWidth, 0))
	prevH := int(chain[0].Uint32(tifftag.ImageLength, 0))
	for i := 1; i < len(chain); i++ {
		w := int(chain[i].Uint32(tifftag.ImageWidth, 0))
		h := int(chain[i].Uint32(tifftag.ImageLength, 0))
		if w >= prevW || h >= prevH {
			return false
		}
		prevW, prevH = w, h
	}
	return true
}

// localPlane is one expanded (c,z,t) -> ifd mapping produced from a single
// TiffData entry's PlaneCount run.
type localPlane struct{ c, z, t, ifd int }

// expandEntry walks e's PlaneCount consecutive planes, advancing (c,z,t)
// fastest-to-slowest per order's tail with carry, each mapped to
// consecutive IFD indices starting at e.IFD.
func expandEntry(order omexml.DimensionOrder, sizeC, sizeZ, sizeT int, e omexml.TiffDataEntry) []localPlane {
	tail := order.Tail()
	sizes := dimSizes(sizeC, sizeZ, sizeT)
	c, z, t := e.FirstC, e.FirstZ, e.FirstT
	planes := make([]localPlane, 0, e.PlaneCount)
	for i := 0; i < e.PlaneCount; i++ {
		planes = append(planes, localPlane{c: c, z: z, t: t, ifd: e.IFD + i})
		advance(tail, sizes, &c, &z, &t)
	}
	return planes
}

// advance increments the fastest-varying dimension in tail order,
// carrying into the next dimension on overflow.
func advance(tail [3]byte, sizes map[byte]int, c, z, t *int) {
	vals := map[byte]*int{'C': c, 'Z': z, 'T': t}
	for _, letter := range tail {
		p := vals[letter]
		*p++
		if *p < max(sizes[letter], 1) {
			return
		}
		*p = 0
	}
}

// filterLocal partitions pixels.TiffData into local (UUID absent or equal
// to rootUUID) and remote entries, and builds the dense local (c,z,t) ->
// ifd lookup plus the filtered, size-reduced OmePixels.
func filterLocal(pixels omexml.OmePixels, rootUUID string) (omexml.OmePixels, map[[3]int]int, []omexml.OmeChannel, error) {
	var planes []localPlane
	for _, e := range pixels.TiffData {
		if e.UUID != "" && e.UUID != rootUUID {
			continue
		}
		planes = append(planes, expandEntry(pixels.DimensionOrder, pixels.SizeC, pixels.SizeZ, pixels.SizeT, e)...)
	}
	if len(planes) == 0 {
		return pixels, nil, nil, errs.New(errs.NoSuchPlane, "no local TiffData entries for root UUID %q", rootUUID)
	}

	cSet, zSet, tSet := map[int]bool{}, map[int]bool{}, map[int]bool{}
	for _, p := range planes {
		cSet[p.c], zSet[p.z], tSet[p.t] = true, true, true
	}
	cList, zList, tList := sortedKeys(cSet), sortedKeys(zSet), sortedKeys(tSet)
	cIndex, zIndex, tIndex := indexOf(cList), indexOf(zList), indexOf(tList)

	lookup := make(map[[3]int]int, len(planes))
	for _, p := range planes {
		lookup[[3]int{cIndex[p.c], zIndex[p.z], tIndex[p.t]}] = p.ifd
	}

	filtered := pixels
	filtered.SizeC, filtered.SizeZ, filtered.SizeT = len(cList), len(zList), len(tList)

	channels := make([]omexml.OmeChannel, 0, len(cList))
	for _, c := range cList {
		if c < len(pixels.Channels) {
			channels = append(channels, pixels.Channels[c])
		}
	}
	return filtered, lookup, channels, nil
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func indexOf(sorted []int) map[int]int {
	m := make(map[int]int, len(sorted))
	for i, v := range sorted {
		m[v] = i
	}
	return m
}
