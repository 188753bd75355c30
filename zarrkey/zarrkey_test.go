package zarrkey

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ome2zarr/bridge/bytesource"
	"github.com/ome2zarr/bridge/dtype"
	"github.com/ome2zarr/bridge/omexml"
	"github.com/ome2zarr/bridge/pyramid"
	"github.com/ome2zarr/bridge/tifffile"
)

func singlePlanePixels(sizeX, sizeY int) omexml.OmePixels {
	return omexml.OmePixels{
		SizeX: sizeX, SizeY: sizeY, SizeC: 1, SizeZ: 1, SizeT: 1,
		DimensionOrder: omexml.XYZCT,
		Type:           "uint8",
		Channels:       []omexml.OmeChannel{{ID: "Channel:0:0"}},
	}
}

func buildFacade(t *testing.T, descs []*tifffile.PlaneDescriptor, pixels omexml.OmePixels) *Facade {
	t.Helper()
	ctx := context.Background()
	buf, err := tifffile.Write(ctx, descs, tifffile.WriteOptions{Format: tifffile.FormatClassic})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	file, err := tifffile.Open(ctx, bytesource.NewMemorySource(buf))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	doc := &omexml.Document{Images: []omexml.OmeImage{{ID: "Image:0", Pixels: pixels}}}
	idx, err := pyramid.Build(ctx, file, doc)
	if err != nil {
		t.Fatalf("pyramid.Build: %v", err)
	}
	f, err := Build(ctx, file, idx, "test", nil)
	if err != nil {
		t.Fatalf("zarrkey.Build: %v", err)
	}
	return f
}

// TestChunkReadS6 is scenario S6's first case: a single-level 64x64 uint8
// classic TIFF's only chunk is the whole 64x64x1 byte image.
func TestChunkReadS6(t *testing.T) {
	pixels := make([]byte, 64*64)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	desc := &tifffile.PlaneDescriptor{Width: 64, Height: 64, BitsPerSample: 8, SampleFormat: int(dtype.UnsignedInt), Pixels: pixels}
	f := buildFacade(t, []*tifffile.PlaneDescriptor{desc}, singlePlanePixels(64, 64))

	data, found, err := f.Get(context.Background(), "0/c/0/0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected chunk to be found")
	}
	if len(data) != 64*64 {
		t.Fatalf("chunk length = %d, want %d", len(data), 64*64)
	}
	if string(data) != string(pixels) {
		t.Fatal("chunk contents do not match source pixels")
	}
}

// TestOutOfBoundsChunkZeroFilledS6 is scenario S6's third case: a
// 64x64-image-with-64x64-chunk's "0/c/2/0" key (entirely below the image)
// returns a 4096-byte all-zero buffer.
func TestOutOfBoundsChunkZeroFilledS6(t *testing.T) {
	pixels := make([]byte, 64*64)
	for i := range pixels {
		pixels[i] = 1 // non-zero, so a zero result can't be an accident
	}
	desc := &tifffile.PlaneDescriptor{Width: 64, Height: 64, BitsPerSample: 8, SampleFormat: int(dtype.UnsignedInt), Pixels: pixels}
	f := buildFacade(t, []*tifffile.PlaneDescriptor{desc}, singlePlanePixels(64, 64))

	data, found, err := f.Get(context.Background(), "0/c/2/0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected out-of-bounds chunk key to be found with a zero-filled buffer")
	}
	if len(data) != 64*64 {
		t.Fatalf("chunk length = %d, want %d", len(data), 64*64)
	}
	for i, b := range data {
		if b != 0 {
			t.Fatalf("data[%d] = %d, want 0 (entirely out-of-image chunk)", i, b)
		}
	}
}

// TestLevelNotFoundS6 is scenario S6's second case: a two-level pyramid's
// level 2 (which does not exist) reports "not found", not an error.
func TestLevelNotFoundS6(t *testing.T) {
	sub := &tifffile.PlaneDescriptor{Width: 32, Height: 32, BitsPerSample: 8, SampleFormat: int(dtype.UnsignedInt), Pixels: make([]byte, 32*32)}
	main := &tifffile.PlaneDescriptor{
		Width: 64, Height: 64, BitsPerSample: 8, SampleFormat: int(dtype.UnsignedInt),
		Pixels:         make([]byte, 64*64),
		Subresolutions: []*tifffile.PlaneDescriptor{sub},
	}
	f := buildFacade(t, []*tifffile.PlaneDescriptor{main}, singlePlanePixels(64, 64))

	if f.idx.Levels() != 2 {
		t.Fatalf("levels = %d, want 2", f.idx.Levels())
	}

	_, found, err := f.Get(context.Background(), "2/zarr.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected level 2 to be not found")
	}
}

func TestRootDocumentShape(t *testing.T) {
	desc := &tifffile.PlaneDescriptor{Width: 16, Height: 16, BitsPerSample: 8, SampleFormat: int(dtype.UnsignedInt), Pixels: make([]byte, 16*16)}
	f := buildFacade(t, []*tifffile.PlaneDescriptor{desc}, singlePlanePixels(16, 16))

	data, found, err := f.Get(context.Background(), "zarr.json")
	if err != nil || !found {
		t.Fatalf("Get(zarr.json) found=%v err=%v", found, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc["zarr_format"].(float64) != 3 {
		t.Fatalf("zarr_format = %v, want 3", doc["zarr_format"])
	}
	if doc["node_type"] != "group" {
		t.Fatalf("node_type = %v, want group", doc["node_type"])
	}
	ome := doc["attributes"].(map[string]any)["ome"].(map[string]any)
	multiscales := ome["multiscales"].([]any)
	if len(multiscales) != 1 {
		t.Fatalf("multiscales length = %d, want 1", len(multiscales))
	}
	axes := multiscales[0].(map[string]any)["axes"].([]any)
	if len(axes) != 2 {
		t.Fatalf("axes length = %d, want 2 (y,x only; t,c,z all size 1)", len(axes))
	}
}

func TestLevelDocumentChunkShape(t *testing.T) {
	desc := &tifffile.PlaneDescriptor{Width: 48, Height: 20, BitsPerSample: 8, SampleFormat: int(dtype.UnsignedInt), Pixels: make([]byte, 48*20)}
	f := buildFacade(t, []*tifffile.PlaneDescriptor{desc}, singlePlanePixels(48, 20))

	data, found, err := f.Get(context.Background(), "0/zarr.json")
	if err != nil || !found {
		t.Fatalf("Get(0/zarr.json) found=%v err=%v", found, err)
	}
	var doc arrayDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(doc.Shape) != 2 || doc.Shape[0] != 20 || doc.Shape[1] != 48 {
		t.Fatalf("shape = %v, want [20 48]", doc.Shape)
	}
	if len(doc.ChunkGrid.Configuration.ChunkShape) != 2 {
		t.Fatalf("chunk_shape length = %d, want 2", len(doc.ChunkGrid.Configuration.ChunkShape))
	}
	if doc.DataType != "uint8" {
		t.Fatalf("data_type = %q, want uint8", doc.DataType)
	}
}

func TestMalformedKeyNotFound(t *testing.T) {
	desc := &tifffile.PlaneDescriptor{Width: 8, Height: 8, BitsPerSample: 8, SampleFormat: int(dtype.UnsignedInt), Pixels: make([]byte, 64)}
	f := buildFacade(t, []*tifffile.PlaneDescriptor{desc}, singlePlanePixels(8, 8))

	for _, key := range []string{"bogus.json", "x/zarr.json", "0/c/0/abc"} {
		_, found, err := f.Get(context.Background(), key)
		if err != nil {
			t.Fatalf("Get(%q): unexpected error %v", key, err)
		}
		if found {
			t.Fatalf("Get(%q): expected not found", key)
		}
	}
}
