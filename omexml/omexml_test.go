package omexml

import (
	"strings"
	"testing"

	"github.com/ome2zarr/bridge/dtype"
	"github.com/ome2zarr/bridge/multiscale"
)

func TestIsOmeXML(t *testing.T) {
	cases := map[string]bool{
		`<?xml version="1.0"?><OME></OME>`: true,
		"  <OME></OME>":                    true,
		`<ome:OME xmlns:ome="x"></ome:OME>`: true,
		`<NotOME></NotOME>`:                false,
		`plain text`:                       false,
	}
	for in, want := range cases {
		if got := IsOmeXML([]byte(in)); got != want {
			t.Errorf("IsOmeXML(%q) = %v, want %v", in, got, want)
		}
	}
}

const sampleOmeXML = `<?xml version="1.0" encoding="UTF-8"?>
<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06" UUID="urn:uuid:root">
  <Image ID="Image:0" Name="sample">
    <Pixels ID="Pixels:0" Type="uint16" SizeX="64" SizeY="32" SizeZ="2" SizeC="3" SizeT="2"
            DimensionOrder="XYTZC" PhysicalSizeX="0.5" PhysicalSizeXUnit="µm">
      <Channel ID="Channel:0:0" Name="DAPI" SamplesPerPixel="1" Color="-1"/>
      <Channel ID="Channel:0:1" SamplesPerPixel="1"/>
      <Channel ID="Channel:0:2" SamplesPerPixel="1"/>
      <TiffData FirstC="0" FirstZ="0" FirstT="0" IFD="0" PlaneCount="1"/>
    </Pixels>
  </Image>
  <Image ID="Image:1" Name="no-pixels"/>
</OME>`

func TestParseBasic(t *testing.T) {
	doc, err := Parse([]byte(sampleOmeXML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.RootUUID != "urn:uuid:root" {
		t.Fatalf("RootUUID = %q, want urn:uuid:root", doc.RootUUID)
	}
	if len(doc.Images) != 1 {
		t.Fatalf("expected 1 image (second has no Pixels and should be dropped), got %d", len(doc.Images))
	}
	img := doc.Images[0]
	p := img.Pixels
	if p.SizeX != 64 || p.SizeY != 32 || p.SizeZ != 2 || p.SizeC != 3 || p.SizeT != 2 {
		t.Fatalf("unexpected sizes: %+v", p)
	}
	if p.DimensionOrder != XYTZC {
		t.Fatalf("DimensionOrder = %q, want XYTZC", p.DimensionOrder)
	}
	if p.Type != "uint16" {
		t.Fatalf("Type = %q, want uint16", p.Type)
	}
	if !p.PhysicalSizeXSet || p.PhysicalSizeX != 0.5 || p.PhysicalSizeXUnit != "µm" {
		t.Fatalf("physical size X not parsed: %+v", p)
	}
	if len(p.Channels) != 3 {
		t.Fatalf("expected 3 channels, got %d", len(p.Channels))
	}
	if p.Channels[0].ID != "Channel:0:0" || p.Channels[0].Name != "DAPI" {
		t.Fatalf("channel 0 wrong: %+v", p.Channels[0])
	}
	if p.Channels[1].ID != "Channel:0:1" {
		t.Fatalf("channel 1 missing default ID: %+v", p.Channels[1])
	}
	if len(p.TiffData) != 1 || p.TiffData[0].IFD != 0 {
		t.Fatalf("TiffData not parsed: %+v", p.TiffData)
	}
}

func TestParseInvalidDimensionOrder(t *testing.T) {
	xmlText := `<OME><Image><Pixels SizeX="1" SizeY="1" DimensionOrder="ZYXCT"></Pixels></Image></OME>`
	if _, err := Parse([]byte(xmlText)); err == nil {
		t.Fatal("expected InvalidDimensionOrder error")
	}
}

func TestParseSynthesizesDefaultChannels(t *testing.T) {
	xmlText := `<OME><Image><Pixels SizeX="1" SizeY="1" SizeC="2"></Pixels></Image></OME>`
	doc, err := Parse([]byte(xmlText))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Images) != 1 || len(doc.Images[0].Pixels.Channels) != 2 {
		t.Fatalf("expected 2 synthesized channels, got %+v", doc.Images)
	}
}

func TestGenerateParseRoundTrip(t *testing.T) {
	ms := &multiscale.Multiscale{
		Name: "round-trip",
		Axes: []multiscale.Axis{
			{Name: "c", Kind: multiscale.KindChannel},
			{Name: "z", Kind: multiscale.KindSpace, Unit: "micrometer"},
			{Name: "y", Kind: multiscale.KindSpace, Unit: "micrometer"},
			{Name: "x", Kind: multiscale.KindSpace, Unit: "micrometer"},
		},
		Levels: []multiscale.MultiscaleImage{
			{DimensionNames: []string{"c", "z", "y", "x"}, Shape: []int{2, 3, 16, 32}, Dtype: dtype.Uint16},
		},
		Datasets: []multiscale.Dataset{
			{Path: "0", CoordinateTransformations: []multiscale.ScaleTransform{{Scale: []float64{1, 0.3, 0.1, 0.1}}}},
		},
	}

	xmlBytes, err := Generate(ms, dtype.Uint16, XYZCT, "ome2zarr-bridge", "round-trip")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(string(xmlBytes), "SizeC=\"2\"") {
		t.Fatalf("expected SizeC=2 in output:\n%s", xmlBytes)
	}

	doc, err := Parse(xmlBytes)
	if err != nil {
		t.Fatalf("Parse(Generate(...)): %v\n%s", err, xmlBytes)
	}
	if len(doc.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(doc.Images))
	}
	p := doc.Images[0].Pixels
	if p.SizeC != 2 || p.SizeZ != 3 || p.SizeY != 16 || p.SizeX != 32 {
		t.Fatalf("sizes did not round trip: %+v", p)
	}
	if p.DimensionOrder != XYZCT {
		t.Fatalf("DimensionOrder did not round trip: %q", p.DimensionOrder)
	}
	if p.Type != "uint16" {
		t.Fatalf("Type did not round trip: %q", p.Type)
	}
	if len(p.Channels) != 2 || p.Channels[0].ID != "Channel:0:0" || p.Channels[1].ID != "Channel:0:1" {
		t.Fatalf("channel identifiers did not round trip: %+v", p.Channels)
	}
}
