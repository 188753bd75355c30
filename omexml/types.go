// Package omexml implements components C and D of the bridge: a tolerant
// parser that extracts Image/Pixels/Channel/TiffData from OME-XML text, and
// a generator that emits the inverse for the write path.
package omexml

// DimensionOrder is one of the six permutations of {Z, C, T} following the
// fixed XY prefix.
type DimensionOrder string

const (
	XYZCT DimensionOrder = "XYZCT"
	XYZTC DimensionOrder = "XYZTC"
	XYCZT DimensionOrder = "XYCZT"
	XYCTZ DimensionOrder = "XYCTZ"
	XYTZC DimensionOrder = "XYTZC"
	XYTCZ DimensionOrder = "XYTCZ"
)

// validOrders is the closed six-permutation set; anything else fails
// InvalidDimensionOrder on parse.
var validOrders = map[DimensionOrder]bool{
	XYZCT: true, XYZTC: true, XYCZT: true, XYCTZ: true, XYTZC: true, XYTCZ: true,
}

// Tail returns the three dimension letters after the fixed XY prefix, in
// fastest-to-slowest order as used by the plane indexer.
func (d DimensionOrder) Tail() [3]byte {
	s := string(d)
	return [3]byte{s[2], s[3], s[4]}
}

// Valid reports whether d is one of the six supported permutations.
func (d DimensionOrder) Valid() bool { return validOrders[d] }

// OmeChannel describes one Pixels/Channel element.
type OmeChannel struct {
	ID              string
	Name            string
	SamplesPerPixel int
	Color           *int32 // nil when no Color attribute was present
}

// TiffDataEntry maps a group of planes to an IFD, possibly in another file.
type TiffDataEntry struct {
	FirstC, FirstZ, FirstT int
	IFD                    int
	PlaneCount             int
	UUID                   string // empty when the TiffData has no UUID child
	FileName               string
}

// OmePixels is the dimension/channel/plane description of one Image.
type OmePixels struct {
	SizeX, SizeY, SizeZ, SizeC, SizeT int
	DimensionOrder                    DimensionOrder
	Type                              string // OME element type string, e.g. "uint16"
	PhysicalSizeX, PhysicalSizeY, PhysicalSizeZ float64
	PhysicalSizeXSet, PhysicalSizeYSet, PhysicalSizeZSet bool
	PhysicalSizeXUnit, PhysicalSizeYUnit, PhysicalSizeZUnit string
	BigEndian   bool
	Interleaved bool
	Channels    []OmeChannel
	TiffData    []TiffDataEntry
}

// OmeImage is one Image element plus its first Pixels child.
type OmeImage struct {
	ID     string
	Name   string
	Pixels OmePixels
}

// Document is the result of a successful Parse: the ordered images plus the
// file-level root UUID used for multi-file routing.
type Document struct {
	Images   []OmeImage
	RootUUID string
}
