package tifffile

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/ome2zarr/bridge/internal/errs"
	"github.com/ome2zarr/bridge/tifftag"
)

// IFD is one parsed Image File Directory: its resolved entries keyed by tag
// id, plus the absolute file offset of the next IFD in the chain (0 if none).
// The entry map is unordered; the writer emits entries ascending by tag id
// (see sortedTagIDs), the on-disk ordering the TIFF spec requires.
type IFD struct {
	Offset     uint64
	entries    map[tifftag.Tag]entry
	NextOffset uint64
}

func (ifd *IFD) get(tag tifftag.Tag) (entry, bool) {
	e, ok := ifd.entries[tag]
	return e, ok
}

// Uint32 reads a single-value LONG/SHORT/BYTE tag, defaulting to def when
// the tag is absent.
func (ifd *IFD) Uint32(tag tifftag.Tag, def uint32) uint32 {
	e, ok := ifd.get(tag)
	if !ok {
		return def
	}
	v, err := e.asUint32()
	if err != nil {
		return def
	}
	return v
}

// Uint32Slice reads a multi-value tag as a uint32 slice, or nil if absent.
func (ifd *IFD) Uint32Slice(tag tifftag.Tag) []uint32 {
	e, ok := ifd.get(tag)
	if !ok {
		return nil
	}
	return e.asUint32Slice()
}

// Uint64Slice reads a multi-value tag as a uint64 slice (for TileOffsets
// etc., which may be LONG8 in BigTIFF), or nil if absent.
func (ifd *IFD) Uint64Slice(tag tifftag.Tag) []uint64 {
	e, ok := ifd.get(tag)
	if !ok {
		return nil
	}
	return e.asUint64Slice()
}

// String reads an ASCII tag's value, or "" if absent.
func (ifd *IFD) String(tag tifftag.Tag) string {
	e, ok := ifd.get(tag)
	if !ok {
		return ""
	}
	return e.asString()
}

// Has reports whether tag is present in this IFD.
func (ifd *IFD) Has(tag tifftag.Tag) bool {
	_, ok := ifd.entries[tag]
	return ok
}

// ReadIFD parses the IFD at absolute offset off, consulting and populating
// f's offset-keyed cache.
func (f *TiffFile) ReadIFD(ctx context.Context, off uint64) (*IFD, error) {
	if cached, ok := f.ifdCache.Get(off); ok {
		return cached.(*IFD), nil
	}
	ifd, err := f.readIFDUncached(ctx, off)
	if err != nil {
		return nil, err
	}
	f.ifdCache.Add(off, ifd)
	return ifd, nil
}

func (f *TiffFile) readIFDUncached(ctx context.Context, off uint64) (*IFD, error) {
	countWidth := 2
	entrySize := 12
	offsetWidth := 4
	if f.BigTIFF {
		countWidth = 8
		entrySize = 20
		offsetWidth = 8
	}

	countBuf := make([]byte, countWidth)
	if _, err := f.Source.ReadAt(ctx, countBuf, int64(off)); err != nil {
		return nil, errs.Wrap(errs.TruncatedFile, err, "reading IFD entry count at offset %d", off)
	}
	var count uint64
	if f.BigTIFF {
		count = binary.LittleEndian.Uint64(countBuf)
	} else {
		count = uint64(binary.LittleEndian.Uint16(countBuf))
	}
	if count > 1<<20 {
		return nil, errs.New(errs.BadOffset, "IFD at offset %d claims implausible entry count %d", off, count)
	}

	blockSize := int64(count)*int64(entrySize) + int64(offsetWidth)
	block := make([]byte, blockSize)
	if _, err := f.Source.ReadAt(ctx, block, int64(off)+int64(countWidth)); err != nil {
		return nil, errs.Wrap(errs.TruncatedFile, err, "reading IFD entry block at offset %d", off)
	}

	ifd := &IFD{Offset: off, entries: make(map[tifftag.Tag]entry, count)}
	for i := uint64(0); i < count; i++ {
		rec := block[i*uint64(entrySize):]
		tagID := tifftag.Tag(binary.LittleEndian.Uint16(rec[0:2]))
		typeCode := tifftag.Type(binary.LittleEndian.Uint16(rec[2:4]))
		typeSize := typeCode.Size()
		if typeSize == 0 {
			continue // unrecognized tag type: skip
		}

		var entryCount uint64
		var valueField []byte
		if f.BigTIFF {
			entryCount = binary.LittleEndian.Uint64(rec[4:12])
			valueField = rec[12:20]
		} else {
			entryCount = uint64(binary.LittleEndian.Uint32(rec[4:8]))
			valueField = rec[8:12]
		}

		payloadSize := entryCount * uint64(typeSize)
		var raw []byte
		if int(payloadSize) <= inlineThreshold(f.BigTIFF) {
			raw = append([]byte(nil), valueField[:payloadSize]...)
		} else {
			var overflowOff uint64
			if f.BigTIFF {
				overflowOff = binary.LittleEndian.Uint64(valueField)
			} else {
				overflowOff = uint64(binary.LittleEndian.Uint32(valueField))
			}
			raw = make([]byte, payloadSize)
			if _, err := f.Source.ReadAt(ctx, raw, int64(overflowOff)); err != nil {
				return nil, errs.Wrap(errs.TruncatedFile, err, "reading overflow payload for tag %s at offset %d", tagID, overflowOff)
			}
		}

		ifd.entries[tagID] = entry{Tag: tagID, Type: typeCode, Count: entryCount, Raw: raw}
	}

	nextField := block[blockSize-int64(offsetWidth):]
	if f.BigTIFF {
		ifd.NextOffset = binary.LittleEndian.Uint64(nextField)
	} else {
		ifd.NextOffset = uint64(binary.LittleEndian.Uint32(nextField))
	}

	return ifd, nil
}

// SubIFDOffsets returns the absolute offsets of ifd's SubIFDs tag, or nil
// if it has none.
func (ifd *IFD) SubIFDOffsets() []uint64 {
	return ifd.Uint64Slice(tifftag.SubIFDs)
}

// Chain walks the main IFD chain starting at the file's first IFD offset,
// returning every IFD in order.
func (f *TiffFile) Chain(ctx context.Context) ([]*IFD, error) {
	var out []*IFD
	off := f.FirstIFDOffset
	seen := map[uint64]bool{}
	for off != 0 {
		if seen[off] {
			return nil, errs.New(errs.BadOffset, "cyclic IFD chain detected at offset %d", off)
		}
		seen[off] = true
		ifd, err := f.ReadIFD(ctx, off)
		if err != nil {
			return nil, err
		}
		out = append(out, ifd)
		off = ifd.NextOffset
	}
	return out, nil
}

// sortedTagIDs returns tag ids present in entries, ascending (used by the
// writer to emit entries in the order the TIFF spec requires).
func sortedTagIDs(entries map[tifftag.Tag]entry) []tifftag.Tag {
	ids := make([]tifftag.Tag, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
