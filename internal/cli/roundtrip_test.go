package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ome2zarr/bridge/bytesource"
	"github.com/ome2zarr/bridge/dtype"
	"github.com/ome2zarr/bridge/tifffile"
)

func writeSampleOmeTiff(t *testing.T, path string) {
	t.Helper()
	pixels := make([]byte, 16*16)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	desc := &tifffile.PlaneDescriptor{
		Width: 16, Height: 16, BitsPerSample: 8, SampleFormat: int(dtype.UnsignedInt),
		Pixels: pixels,
		ImageDescription: []byte(`<?xml version="1.0" encoding="UTF-8"?>
<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06">
<Image ID="Image:0" Name="s">
<Pixels ID="Pixels:0" DimensionOrder="XYZCT" Type="uint8" SizeX="16" SizeY="16" SizeC="1" SizeZ="1" SizeT="1">
<Channel ID="Channel:0:0" SamplesPerPixel="1"/>
</Pixels>
</Image>
</OME>`),
	}
	buf, err := tifffile.Write(context.Background(), []*tifffile.PlaneDescriptor{desc}, tifffile.WriteOptions{Format: tifffile.FormatClassic})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// TestToZarrToTiffRoundTrip exercises to-zarr then to-tiff end to end and
// checks the reassembled file's pixels match the original.
func TestToZarrToTiffRoundTrip(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.ome.tiff")
	writeSampleOmeTiff(t, inPath)

	storeDir := filepath.Join(dir, "store")
	toZarr := NewToZarrCmd()
	toZarr.SetArgs([]string{inPath, storeDir})
	if err := toZarr.Execute(); err != nil {
		t.Fatalf("to-zarr: %v", err)
	}
	if _, err := os.Stat(filepath.Join(storeDir, "zarr.json")); err != nil {
		t.Fatalf("missing root document: %v", err)
	}
	if _, err := os.Stat(filepath.Join(storeDir, "0", "zarr.json")); err != nil {
		t.Fatalf("missing level document: %v", err)
	}

	outPath := filepath.Join(dir, "out.ome.tiff")
	toTiff := NewToTiffCmd()
	toTiff.SetArgs([]string{storeDir, outPath})
	if err := toTiff.Execute(); err != nil {
		t.Fatalf("to-tiff: %v", err)
	}

	src, f, err := bytesource.OpenFile(outPath)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	file, err := tifffile.Open(context.Background(), src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	chain, err := file.Chain(context.Background())
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("chain length = %d, want 1", len(chain))
	}
	g, err := chain[0].Geometry()
	if err != nil {
		t.Fatalf("Geometry: %v", err)
	}
	pixels, err := file.ReadFull(context.Background(), g)
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if len(pixels) != 16*16 {
		t.Fatalf("pixels length = %d, want %d", len(pixels), 16*16)
	}
	for i, b := range pixels {
		if b != byte(i) {
			t.Fatalf("pixels[%d] = %d, want %d", i, b, byte(i))
		}
	}
}

// TestInspectCmdRuns checks inspect executes cleanly over a minimal file.
func TestInspectCmdRuns(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.ome.tiff")
	writeSampleOmeTiff(t, inPath)

	cmd := NewInspectCmd()
	cmd.SetArgs([]string{inPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("inspect: %v", err)
	}
}
