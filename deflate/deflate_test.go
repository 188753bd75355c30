package deflate

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	input := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	for level := 1; level <= 9; level++ {
		compressed, err := Compress(input, level)
		if err != nil {
			t.Fatalf("Compress level %d: %v", level, err)
		}
		if len(compressed) == 0 || compressed[0] != 0x78 {
			t.Fatalf("level %d: expected zlib CMF prefix 0x78, got %x", level, compressed[:1])
		}
		out, err := Decompress(compressed)
		if err != nil {
			t.Fatalf("Decompress level %d: %v", level, err)
		}
		if !bytes.Equal(out, input) {
			t.Fatalf("level %d: round trip mismatch", level)
		}
	}
}

func TestCompressDeterministic(t *testing.T) {
	input := []byte("deterministic payload for a fixed level")
	a, err := Compress(input, 6)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compress(input, 6)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("Compress(level=6) not deterministic across calls")
	}
}

func TestDecompressCorrupt(t *testing.T) {
	if _, err := Decompress([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Fatal("expected CompressionCorrupt for invalid input")
	}
}
