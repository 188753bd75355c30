package omewrite

import (
	"context"
	"testing"

	"github.com/ome2zarr/bridge/bytesource"
	"github.com/ome2zarr/bridge/dtype"
	"github.com/ome2zarr/bridge/multiscale"
	"github.com/ome2zarr/bridge/omexml"
	"github.com/ome2zarr/bridge/pyramid"
	"github.com/ome2zarr/bridge/tifffile"
	"github.com/ome2zarr/bridge/tifftag"
)

func encodePlane(c, z, t int) byte {
	return byte(c*100 + z*10 + t)
}

func planeReader(width, height int) multiscale.PlaneReader {
	return func(ctx context.Context, level, c, z, t int) ([]byte, error) {
		buf := make([]byte, width*height)
		v := encodePlane(c, z, t)
		for i := range buf {
			buf[i] = v
		}
		return buf, nil
	}
}

// TestWriteOrchestratorPlaneOrder builds a DimensionOrder XYTZC geometry
// with SizeC=3, SizeZ=2, SizeT=2 and checks that the emitted IFD chain
// holds each plane (c,z,t) at its expected index.
func TestWriteOrchestratorPlaneOrder(t *testing.T) {
	const sizeC, sizeZ, sizeT, width, height = 3, 2, 2, 4, 4
	ms := &multiscale.Multiscale{
		Name: "plane-order",
		Axes: []multiscale.Axis{
			{Name: "c", Kind: multiscale.KindChannel},
			{Name: "z", Kind: multiscale.KindSpace},
			{Name: "t", Kind: multiscale.KindTime},
			{Name: "y", Kind: multiscale.KindSpace},
			{Name: "x", Kind: multiscale.KindSpace},
		},
		Levels: []multiscale.MultiscaleImage{{
			DimensionNames: []string{"c", "z", "t", "y", "x"},
			Shape:          []int{sizeC, sizeZ, sizeT, height, width},
			Dtype:          dtype.Uint8,
			Reader:         planeReader(width, height),
		}},
	}

	buf, err := Write(context.Background(), ms, omexml.XYTZC, "plane-order", Options{Format: tifffile.FormatClassic})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := tifffile.Open(context.Background(), bytesource.NewMemorySource(buf))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	chain, err := f.Chain(context.Background())
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != sizeC*sizeZ*sizeT {
		t.Fatalf("chain length = %d, want %d", len(chain), sizeC*sizeZ*sizeT)
	}

	for k, ifd := range chain {
		g, err := ifd.Geometry()
		if err != nil {
			t.Fatalf("Geometry(%d): %v", k, err)
		}
		pixels, err := f.ReadFull(context.Background(), g)
		if err != nil {
			t.Fatalf("ReadFull(%d): %v", k, err)
		}
		c, z, tt := pyramid.InvertPlaneIndex(omexml.XYTZC, sizeC, sizeZ, sizeT, k)
		want := encodePlane(c, z, tt)
		if pixels[0] != want {
			t.Errorf("chain[%d] pixel = %d, want %d (c=%d,z=%d,t=%d)", k, pixels[0], want, c, z, tt)
		}
	}

	// Spot checks: index(c=1,z=0,t=0)=4, etc.
	cases := []struct{ c, z, t, k int }{
		{1, 0, 0, 4},
		{0, 1, 0, 2},
		{0, 0, 1, 1},
		{0, 0, 0, 0},
	}
	for _, tc := range cases {
		g, err := chain[tc.k].Geometry()
		if err != nil {
			t.Fatalf("Geometry: %v", err)
		}
		pixels, err := f.ReadFull(context.Background(), g)
		if err != nil {
			t.Fatalf("ReadFull: %v", err)
		}
		want := encodePlane(tc.c, tc.z, tc.t)
		if pixels[0] != want {
			t.Errorf("chain[%d] pixel = %d, want %d for (c=%d,z=%d,t=%d)", tc.k, pixels[0], want, tc.c, tc.z, tc.t)
		}
	}
}

// TestWriteOrchestratorSubIFDPyramid checks that levels beyond 0 attach as
// SubIFDs on every plane.
func TestWriteOrchestratorSubIFDPyramid(t *testing.T) {
	const width, height = 8, 8
	ms := &multiscale.Multiscale{
		Name: "pyr",
		Axes: []multiscale.Axis{{Name: "y", Kind: multiscale.KindSpace}, {Name: "x", Kind: multiscale.KindSpace}},
		Levels: []multiscale.MultiscaleImage{
			{DimensionNames: []string{"y", "x"}, Shape: []int{height, width}, Dtype: dtype.Uint8, Reader: planeReader(width, height)},
			{DimensionNames: []string{"y", "x"}, Shape: []int{height / 2, width / 2}, Dtype: dtype.Uint8, Reader: planeReader(width/2, height/2)},
		},
	}

	buf, err := Write(context.Background(), ms, omexml.XYZCT, "pyr", Options{Format: tifffile.FormatClassic})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := tifffile.Open(context.Background(), bytesource.NewMemorySource(buf))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	chain, err := f.Chain(context.Background())
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("main chain length = %d, want 1", len(chain))
	}
	subs := chain[0].SubIFDOffsets()
	if len(subs) != 1 {
		t.Fatalf("SubIFDs count = %d, want 1", len(subs))
	}
}

// TestWriteOrchestratorEmbedsOmeXml checks the first IFD carries the
// generated OME-XML as its ImageDescription.
func TestWriteOrchestratorEmbedsOmeXml(t *testing.T) {
	const width, height = 4, 4
	ms := &multiscale.Multiscale{
		Name: "meta",
		Axes: []multiscale.Axis{{Name: "y", Kind: multiscale.KindSpace}, {Name: "x", Kind: multiscale.KindSpace}},
		Levels: []multiscale.MultiscaleImage{
			{DimensionNames: []string{"y", "x"}, Shape: []int{height, width}, Dtype: dtype.Uint16, Reader: func(ctx context.Context, level, c, z, t int) ([]byte, error) {
				return make([]byte, width*height*2), nil
			}},
		},
	}

	buf, err := Write(context.Background(), ms, omexml.XYZCT, "meta", Options{Format: tifffile.FormatClassic})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := tifffile.Open(context.Background(), bytesource.NewMemorySource(buf))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	chain, err := f.Chain(context.Background())
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	desc := chain[0].String(tifftag.ImageDescription)
	if desc == "" {
		t.Fatal("expected non-empty ImageDescription on first IFD")
	}
	doc, err := omexml.Parse([]byte(desc))
	if err != nil {
		t.Fatalf("Parse embedded OME-XML: %v", err)
	}
	if len(doc.Images) != 1 || doc.Images[0].Pixels.SizeX != width || doc.Images[0].Pixels.SizeY != height {
		t.Fatalf("parsed pixels = %+v, want SizeX=%d SizeY=%d", doc.Images[0].Pixels, width, height)
	}
}
