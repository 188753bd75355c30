package pyramid

import (
	"testing"

	"github.com/ome2zarr/bridge/omexml"
)

// TestPlaneIndexS4 is scenario S4.
func TestPlaneIndexS4(t *testing.T) {
	const sizeC, sizeZ, sizeT = 3, 2, 2
	cases := []struct {
		c, z, t, want int
	}{
		{1, 0, 0, 4},
		{0, 1, 0, 2},
		{0, 0, 1, 1},
		{0, 0, 0, 0},
	}
	for _, tc := range cases {
		got := PlaneIndex(omexml.XYTZC, sizeC, sizeZ, sizeT, tc.c, tc.z, tc.t)
		if got != tc.want {
			t.Errorf("PlaneIndex(c=%d,z=%d,t=%d) = %d, want %d", tc.c, tc.z, tc.t, got, tc.want)
		}
	}
}

// TestPlaneIndexInverseProperty checks every (order, c, z, t) round-trips
// through PlaneIndex/InvertPlaneIndex for all six dimension orders.
func TestPlaneIndexInverseProperty(t *testing.T) {
	orders := []omexml.DimensionOrder{omexml.XYZCT, omexml.XYZTC, omexml.XYCZT, omexml.XYCTZ, omexml.XYTZC, omexml.XYTCZ}
	const sizeC, sizeZ, sizeT = 3, 2, 4
	for _, order := range orders {
		for c := 0; c < sizeC; c++ {
			for z := 0; z < sizeZ; z++ {
				for tt := 0; tt < sizeT; tt++ {
					k := PlaneIndex(order, sizeC, sizeZ, sizeT, c, z, tt)
					gc, gz, gt := InvertPlaneIndex(order, sizeC, sizeZ, sizeT, k)
					if gc != c || gz != z || gt != tt {
						t.Fatalf("order %s: PlaneIndex(%d,%d,%d)=%d but InvertPlaneIndex gave (%d,%d,%d)", order, c, z, tt, k, gc, gz, gt)
					}
				}
			}
		}
	}
}

// TestFilterLocalS5 is scenario S5.
func TestFilterLocalS5(t *testing.T) {
	const rootUUID = "U_L"
	const remoteUUID = "U_R"
	pixels := omexml.OmePixels{
		SizeC: 2, SizeZ: 1, SizeT: 20,
		DimensionOrder: omexml.XYZTC,
		Channels: []omexml.OmeChannel{
			{ID: "Channel:0:0"},
			{ID: "Channel:0:1"},
		},
	}
	for t := 0; t < 20; t++ {
		pixels.TiffData = append(pixels.TiffData, omexml.TiffDataEntry{
			FirstC: 0, FirstZ: 0, FirstT: t, IFD: t, PlaneCount: 1, UUID: rootUUID,
		})
	}
	for t := 0; t < 20; t++ {
		pixels.TiffData = append(pixels.TiffData, omexml.TiffDataEntry{
			FirstC: 1, FirstZ: 0, FirstT: t, IFD: t, PlaneCount: 1, UUID: remoteUUID,
		})
	}

	filtered, lookup, channels, err := filterLocal(pixels, rootUUID)
	if err != nil {
		t.Fatalf("filterLocal: %v", err)
	}
	if filtered.SizeC != 1 || filtered.SizeZ != 1 || filtered.SizeT != 20 {
		t.Fatalf("filtered sizes = %+v, want C=1,Z=1,T=20", filtered)
	}
	if len(channels) != 1 || channels[0].ID != "Channel:0:0" {
		t.Fatalf("channels = %+v, want single Channel:0:0", channels)
	}
	if len(lookup) != 20 {
		t.Fatalf("lookup has %d entries, want 20", len(lookup))
	}
	for tt := 0; tt < 20; tt++ {
		ifd, ok := lookup[[3]int{0, 0, tt}]
		if !ok || ifd != tt {
			t.Errorf("lookup[0,0,%d] = (%d,%v), want (%d,true)", tt, ifd, ok, tt)
		}
	}
}
