package omexml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/ome2zarr/bridge/dtype"
	"github.com/ome2zarr/bridge/internal/errs"
	"github.com/ome2zarr/bridge/multiscale"
)

// omeNamespace is the OME 2016-06 schema namespace the generator declares
// on the root element.
const omeNamespace = "http://www.openmicroscopy.org/Schemas/OME/2016-06"

// unitSymbols maps an axis-kind unit name to the OME unit symbol it is
// written with. Anything not in the table passes through unchanged.
var unitSymbols = map[string]string{
	"micrometer": "µm",
	"µm":         "µm",
	"um":         "µm",
	"nanometer":  "nm",
	"nm":         "nm",
	"millimeter": "mm",
	"mm":         "mm",
	"meter":      "m",
	"m":          "m",
	"second":     "s",
	"s":          "s",
	"minute":     "min",
}

// defaultPalette is the classic microscopy channel-color cycle (white, red,
// green, blue, cyan, magenta, yellow) assigned round-robin when no explicit
// Color is known (DESIGN.md Open Question 3). Each value is the packed
// signed 32-bit RGBA integer OME-XML's Color attribute expects.
var defaultPalette = []int32{
	-1,        // white   0xFFFFFFFF
	-16776961, // red     0xFF0000FF
	16711935,  // green   0x00FF00FF
	65535,     // blue    0x0000FFFF
	16777215,  // cyan    0x00FFFFFF
	-16711681, // magenta 0xFF00FFFF
	-65281,    // yellow  0xFFFF00FF
}

// Generate emits an OME-XML document describing ms's level-0 geometry,
// element type, dimension order, and channel list, suitable for embedding
// in a TIFF's ImageDescription tag on the first main IFD.
func Generate(ms *multiscale.Multiscale, elementType dtype.ArrayDType, order DimensionOrder, creator, name string) ([]byte, error) {
	if !order.Valid() {
		return nil, errs.New(errs.InvalidDimensionOrder, "cannot generate OME-XML with unsupported DimensionOrder %q", order)
	}
	if len(ms.Levels) == 0 {
		return nil, errs.New(errs.InvalidXml, "multiscale has no levels")
	}
	level0 := ms.Levels[0]

	sizes := map[string]int{"x": 1, "y": 1, "z": 1, "c": 1, "t": 1}
	for i, dim := range level0.DimensionNames {
		if i < len(level0.Shape) {
			sizes[dim] = level0.Shape[i]
		}
	}

	omeType, err := dtype.ArrayDtypeToOmeType(elementType)
	if err != nil {
		return nil, err
	}

	physical := physicalSizes(ms)

	channels := channelList(ms, sizes["c"])

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&buf, `<OME xmlns=%s Creator=%s>`+"\n", quote(omeNamespace), quote(creator))
	fmt.Fprintf(&buf, `  <Image ID="Image:0" Name=%s>`+"\n", quote(name))
	buf.WriteString(`    <Pixels ID="Pixels:0"`)
	fmt.Fprintf(&buf, ` Type=%s`, quote(omeType))
	fmt.Fprintf(&buf, ` SizeX="%d" SizeY="%d" SizeZ="%d" SizeC="%d" SizeT="%d"`,
		sizes["x"], sizes["y"], sizes["z"], sizes["c"], sizes["t"])
	fmt.Fprintf(&buf, ` DimensionOrder=%s`, quote(string(order)))
	buf.WriteString(` BigEndian="false"`)
	for _, axis := range []string{"x", "y", "z"} {
		if v, ok := physical[axis]; ok {
			fmt.Fprintf(&buf, ` PhysicalSize%s=%s PhysicalSize%sUnit=%s`,
				upper(axis), quote(formatFloat(v.value)), upper(axis), quote(v.unit))
		}
	}
	buf.WriteString(">\n")
	for _, ch := range channels {
		buf.WriteString(`      <Channel`)
		fmt.Fprintf(&buf, ` ID=%s`, quote(ch.id))
		if ch.name != "" {
			fmt.Fprintf(&buf, ` Name=%s`, quote(ch.name))
		}
		buf.WriteString(` SamplesPerPixel="1"`)
		if ch.color != nil {
			fmt.Fprintf(&buf, ` Color="%d"`, *ch.color)
		}
		buf.WriteString("/>\n")
	}
	buf.WriteString("      <TiffData/>\n")
	buf.WriteString("    </Pixels>\n")
	buf.WriteString("  </Image>\n")
	buf.WriteString("</OME>\n")

	return buf.Bytes(), nil
}

type physicalSize struct {
	value float64
	unit  string
}

func physicalSizes(ms *multiscale.Multiscale) map[string]physicalSize {
	out := map[string]physicalSize{}
	if len(ms.Datasets) == 0 || len(ms.Datasets[0].CoordinateTransformations) == 0 {
		return out
	}
	scale := ms.Datasets[0].CoordinateTransformations[0].Scale
	for i, axis := range ms.Axes {
		if axis.Kind != multiscale.KindSpace || i >= len(scale) {
			continue
		}
		unit := unitSymbols[axis.Unit]
		if unit == "" {
			if axis.Unit != "" {
				unit = axis.Unit
			} else {
				unit = "µm"
			}
		}
		out[axis.Name] = physicalSize{value: scale[i], unit: unit}
	}
	return out
}

// generatedChannel is the {ID, Name, Color} triple the Pixels/Channel
// writer loop emits; it differs from multiscale.ChannelHint (which also
// carries a display window that has no OME-XML Channel counterpart).
type generatedChannel struct {
	id, name string
	color    *int32
}

func channelList(ms *multiscale.Multiscale, sizeC int) []generatedChannel {
	out := make([]generatedChannel, sizeC)
	for i := range out {
		out[i].id = fmt.Sprintf("Channel:0:%d", i)
	}
	if ms.Display != nil {
		for i := range out {
			if i < len(ms.Display.Channels) {
				hint := ms.Display.Channels[i]
				out[i].name = hint.Label
				out[i].color = hint.Color
			}
		}
	}
	for i := range out {
		if out[i].color == nil {
			c := defaultPalette[i%len(defaultPalette)]
			out[i].color = &c
		}
	}
	return out
}

func quote(s string) string {
	var buf bytes.Buffer
	buf.WriteByte('"')
	xml.EscapeText(&buf, []byte(s))
	buf.WriteByte('"')
	return buf.String()
}

func upper(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-32) + s[1:]
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
