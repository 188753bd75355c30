// Package multiscale holds the shared OME-Zarr-facing data model that the generator (omexml),
// the indexer (pyramid), the read facade (zarrkey), and the write
// orchestrator (omewrite) all exchange.
package multiscale

import (
	"context"

	"github.com/ome2zarr/bridge/dtype"
)

// AxisKind classifies a dimension axis.
type AxisKind string

const (
	KindTime    AxisKind = "time"
	KindChannel AxisKind = "channel"
	KindSpace   AxisKind = "space"
)

// Axis is one entry of the shared axis descriptor list.
type Axis struct {
	Name string
	Kind AxisKind
	Unit string // empty when not known
}

// ScaleTransform is the single coordinateTransformations entry OME-Zarr
// uses per dataset level: a per-axis multiplicative scale.
type ScaleTransform struct {
	Scale []float64
}

// Dataset is one multiscale resolution level's path and transform.
type Dataset struct {
	Path                    string
	CoordinateTransformations []ScaleTransform
}

// ChannelHint is one entry of the optional omero-style display-hints block.
type ChannelHint struct {
	Label  string
	Color  *int32 // packed RGBA, nil when not supplied
	Window struct {
		Min, Max, Start, End float64
	}
}

// DisplayHints is the optional "omero-like" metadata block.
type DisplayHints struct {
	Channels []ChannelHint
}

// PlaneReader is the write-side collaborator: returns the
// dense little-endian row-major element buffer for one plane at one
// pyramid level.
type PlaneReader func(ctx context.Context, level, c, z, t int) ([]byte, error)

// MultiscaleImage is one resolution level of a Multiscale.
type MultiscaleImage struct {
	// DimensionNames is a permutation of a subset of {t,c,z,y,x} ending
	// in y,x.
	DimensionNames []string
	Shape          []int
	// Scale gives, per DimensionNames entry, the physical size
	// multiplier at this level.
	Scale  []float64
	Dtype  dtype.ArrayDType
	Reader PlaneReader
}

// Multiscale is the full shared description of a pyramidal image.
type Multiscale struct {
	Name     string
	Axes     []Axis
	Levels   []MultiscaleImage
	Datasets []Dataset
	Display  *DisplayHints
}

// PlaneSelection identifies one (c, z, t) plane.
type PlaneSelection struct {
	C, Z, T int
}

// PyramidInfo describes a detected pyramid's level geometry.
type PyramidInfo struct {
	Levels      int
	UsesSubIFDs bool
	Widths      []int
	Heights     []int
}
