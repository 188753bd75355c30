package dtype

import "testing"

func TestTiffArrayRoundTrip(t *testing.T) {
	cases := []struct {
		format RasterSampleFormat
		bits   int
		want   ArrayDType
	}{
		{UnsignedInt, 8, Uint8},
		{UnsignedInt, 16, Uint16},
		{UnsignedInt, 32, Uint32},
		{SignedInt, 8, Int8},
		{SignedInt, 16, Int16},
		{SignedInt, 32, Int32},
		{IEEEFloat, 32, Float32},
		{IEEEFloat, 64, Float64},
	}
	for _, c := range cases {
		got, err := TiffToArrayDtype(c.format, c.bits)
		if err != nil {
			t.Fatalf("TiffToArrayDtype(%v, %d): %v", c.format, c.bits, err)
		}
		if got != c.want {
			t.Fatalf("TiffToArrayDtype(%v, %d) = %v, want %v", c.format, c.bits, got, c.want)
		}
		format, bits, err := ArrayDtypeToTiff(got)
		if err != nil {
			t.Fatalf("ArrayDtypeToTiff(%v): %v", got, err)
		}
		if format != c.format || bits != c.bits {
			t.Fatalf("ArrayDtypeToTiff(%v) = (%v, %d), want (%v, %d)", got, format, bits, c.format, c.bits)
		}
	}
}

func TestTiffToArrayDtypeUnsupported(t *testing.T) {
	unsupported := []struct {
		format RasterSampleFormat
		bits   int
	}{
		{IEEEFloat, 16},
		{UnsignedInt, 64},
		{SignedInt, 64},
	}
	for _, c := range unsupported {
		if _, err := TiffToArrayDtype(c.format, c.bits); err == nil {
			t.Fatalf("TiffToArrayDtype(%v, %d) should fail UnsupportedDtype", c.format, c.bits)
		}
	}
}

func TestOmeTypeToArrayDtype(t *testing.T) {
	cases := map[string]ArrayDType{
		"uint8":  Uint8,
		"UINT16": Uint16,
		"Float":  Float32,
		"double": Float64,
		" int32": Int32,
	}
	for in, want := range cases {
		got, err := OmeTypeToArrayDtype(in)
		if err != nil {
			t.Fatalf("OmeTypeToArrayDtype(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("OmeTypeToArrayDtype(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := OmeTypeToArrayDtype("complex"); err == nil {
		t.Fatalf("expected UnsupportedDtype for unrecognized OME type")
	}
}

func TestArrayDtypeToOmeTypeRoundTrip(t *testing.T) {
	for dt := range zarrTypeNames {
		omeName, err := ArrayDtypeToOmeType(dt)
		if err != nil {
			t.Fatalf("ArrayDtypeToOmeType(%v): %v", dt, err)
		}
		back, err := OmeTypeToArrayDtype(omeName)
		if err != nil {
			t.Fatalf("OmeTypeToArrayDtype(%q): %v", omeName, err)
		}
		if back != dt {
			t.Fatalf("round trip through OME type name changed dtype: %v -> %q -> %v", dt, omeName, back)
		}
	}
}

func TestBytesPerElement(t *testing.T) {
	cases := map[ArrayDType]int{
		Uint8: 1, Int8: 1,
		Uint16: 2, Int16: 2,
		Uint32: 4, Int32: 4, Float32: 4,
		Float64: 8,
	}
	for dt, want := range cases {
		got, err := BytesPerElement(dt)
		if err != nil {
			t.Fatalf("BytesPerElement(%v): %v", dt, err)
		}
		if got != want {
			t.Fatalf("BytesPerElement(%v) = %d, want %d", dt, got, want)
		}
	}
}
