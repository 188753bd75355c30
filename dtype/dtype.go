// Package dtype is the bidirectional registry mapping between the three
// spellings of a pixel's element type that appear in an OME-TIFF/OME-Zarr
// pair: a TIFF (SampleFormat, BitsPerSample) pair, an OME-XML Pixels "Type"
// string, and a Zarr v3 data_type string. All three must round-trip
// exactly.
package dtype

import (
	"fmt"
	"strings"

	"github.com/ome2zarr/bridge/internal/errs"
)

// RasterSampleFormat is the TIFF SampleFormat tag's closed variant.
type RasterSampleFormat int

const (
	UnsignedInt RasterSampleFormat = 1
	SignedInt   RasterSampleFormat = 2
	IEEEFloat   RasterSampleFormat = 3
)

// ArrayDType is the canonical element type used on the array (Zarr) side.
type ArrayDType int

const (
	Int8 ArrayDType = iota + 1
	Int16
	Int32
	Uint8
	Uint16
	Uint32
	Float32
	Float64
)

var omeTypeNames = map[ArrayDType]string{
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Float32: "float",
	Float64: "double",
}

var zarrTypeNames = map[ArrayDType]string{
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Float32: "float32",
	Float64: "float64",
}

var byteWidths = map[ArrayDType]int{
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Float32: 4,
	Float64: 8,
}

type tiffKey struct {
	format RasterSampleFormat
	bits   int
}

var tiffToArray = map[tiffKey]ArrayDType{
	{UnsignedInt, 8}:  Uint8,
	{UnsignedInt, 16}: Uint16,
	{UnsignedInt, 32}: Uint32,
	{SignedInt, 8}:    Int8,
	{SignedInt, 16}:   Int16,
	{SignedInt, 32}:   Int32,
	{IEEEFloat, 32}:   Float32,
	{IEEEFloat, 64}:   Float64,
}

var arrayToTiff = func() map[ArrayDType]tiffKey {
	out := make(map[ArrayDType]tiffKey, len(tiffToArray))
	for k, v := range tiffToArray {
		out[v] = k
	}
	return out
}()

var zarrNameToArray = func() map[string]ArrayDType {
	out := make(map[string]ArrayDType, len(zarrTypeNames))
	for k, v := range zarrTypeNames {
		out[v] = k
	}
	return out
}()

// TiffToArrayDtype maps a TIFF (SampleFormat, BitsPerSample) pair to the
// canonical ArrayDType, failing UnsupportedDtype outside the bijection
// (e.g. 16-bit float, 64-bit integers).
func TiffToArrayDtype(format RasterSampleFormat, bits int) (ArrayDType, error) {
	if dt, ok := tiffToArray[tiffKey{format, bits}]; ok {
		return dt, nil
	}
	return 0, errs.New(errs.UnsupportedDtype, "no array dtype for TIFF sample format %d bits %d", format, bits)
}

// ArrayDtypeToTiff is the inverse of TiffToArrayDtype.
func ArrayDtypeToTiff(dt ArrayDType) (RasterSampleFormat, int, error) {
	key, ok := arrayToTiff[dt]
	if !ok {
		return 0, 0, errs.New(errs.UnsupportedDtype, "no TIFF encoding for array dtype %d", dt)
	}
	return key.format, key.bits, nil
}

// OmeTypeToArrayDtype maps an OME-XML Pixels Type string (case-insensitive)
// to the canonical ArrayDType. "float" maps to Float32 and "double" to
// Float64; all other names are taken literally.
func OmeTypeToArrayDtype(omeType string) (ArrayDType, error) {
	switch strings.ToLower(strings.TrimSpace(omeType)) {
	case "int8":
		return Int8, nil
	case "int16":
		return Int16, nil
	case "int32":
		return Int32, nil
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "uint32":
		return Uint32, nil
	case "float":
		return Float32, nil
	case "double":
		return Float64, nil
	default:
		return 0, errs.New(errs.UnsupportedDtype, "unrecognized OME element type %q", omeType)
	}
}

// ArrayDtypeToOmeType is the inverse of OmeTypeToArrayDtype.
func ArrayDtypeToOmeType(dt ArrayDType) (string, error) {
	name, ok := omeTypeNames[dt]
	if !ok {
		return "", errs.New(errs.UnsupportedDtype, "no OME type name for array dtype %d", dt)
	}
	return name, nil
}

// ZarrDataType returns the Zarr v3 data_type string for dt.
func ZarrDataType(dt ArrayDType) (string, error) {
	name, ok := zarrTypeNames[dt]
	if !ok {
		return "", errs.New(errs.UnsupportedDtype, "no Zarr data_type for array dtype %d", dt)
	}
	return name, nil
}

// ArrayDtypeFromZarr is the inverse of ZarrDataType.
func ArrayDtypeFromZarr(name string) (ArrayDType, error) {
	dt, ok := zarrNameToArray[name]
	if !ok {
		return 0, errs.New(errs.UnsupportedDtype, "no array dtype for Zarr data_type %q", name)
	}
	return dt, nil
}

// BytesPerElement returns the element width in bytes: one of {1,2,4,8}.
func BytesPerElement(dt ArrayDType) (int, error) {
	width, ok := byteWidths[dt]
	if !ok {
		return 0, errs.New(errs.UnsupportedDtype, "unknown byte width for array dtype %d", dt)
	}
	return width, nil
}

func (dt ArrayDType) String() string {
	if name, ok := zarrTypeNames[dt]; ok {
		return name
	}
	return fmt.Sprintf("ArrayDType(%d)", int(dt))
}
