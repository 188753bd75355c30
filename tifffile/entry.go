// Package tifffile implements component E of the bridge: the classic
// TIFF and BigTIFF container codec — header and IFD-chain
// parsing, tiled/strip pixel layout, SubIFD pyramids, and the two-pass
// write placement algorithm.
package tifffile

import (
	"encoding/binary"

	"github.com/ome2zarr/bridge/internal/errs"
	"github.com/ome2zarr/bridge/tifftag"
)

// entry is one resolved IFD directory entry: tag, type, count, and the raw
// value bytes (always count*Type.Size() bytes long, already resolved from
// either the inline value field or the overflow region).
type entry struct {
	Tag   tifftag.Tag
	Type  tifftag.Type
	Count uint64
	Raw   []byte
}

func (e entry) asUint32Slice() []uint32 {
	size := e.Type.Size()
	out := make([]uint32, e.Count)
	for i := range out {
		switch e.Type {
		case tifftag.Short:
			out[i] = uint32(binary.LittleEndian.Uint16(e.Raw[i*size:]))
		case tifftag.Long:
			out[i] = binary.LittleEndian.Uint32(e.Raw[i*size:])
		default:
			out[i] = uint32(e.Raw[i*size])
		}
	}
	return out
}

func (e entry) asUint64Slice() []uint64 {
	size := e.Type.Size()
	out := make([]uint64, e.Count)
	for i := range out {
		switch e.Type {
		case tifftag.Short:
			out[i] = uint64(binary.LittleEndian.Uint16(e.Raw[i*size:]))
		case tifftag.Long:
			out[i] = uint64(binary.LittleEndian.Uint32(e.Raw[i*size:]))
		case tifftag.Long8, tifftag.IFD8:
			out[i] = binary.LittleEndian.Uint64(e.Raw[i*size:])
		default:
			out[i] = uint64(e.Raw[i*size])
		}
	}
	return out
}

func (e entry) asUint32() (uint32, error) {
	vals := e.asUint32Slice()
	if len(vals) == 0 {
		return 0, errs.New(errs.BadTagType, "tag %s has no value", e.Tag)
	}
	return vals[0], nil
}

func (e entry) asString() string {
	s := string(e.Raw)
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}

// inlineThreshold returns the value-field width (in bytes) a payload must
// fit within to be stored inline rather than via an overflow offset.
func inlineThreshold(bigTIFF bool) int {
	if bigTIFF {
		return 8
	}
	return 4
}
