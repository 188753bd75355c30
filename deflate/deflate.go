// Package deflate implements the zlib-wrapped (RFC 1950) deflate codec
// used by TIFF compression code 8. It is byte-compatible with
// any standard zlib decoder: the emitted stream begins with the 0x78 CMF
// byte and a level-appropriate FLG byte, exactly as compress/zlib would
// produce, because klauspost/compress implements the same wire format.
package deflate

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/ome2zarr/bridge/internal/errs"
)

// DefaultLevel is used when a caller does not care about the tradeoff
// between ratio and speed.
const DefaultLevel = 6

// Compress deflate-encodes data at the given zlib level (1-9), returning a
// zlib-wrapped stream. The result is deterministic for a fixed level and
// input.
func Compress(data []byte, level int) ([]byte, error) {
	if level < 1 || level > 9 {
		level = DefaultLevel
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, errs.Wrap(errs.CompressionCorrupt, err, "create deflate writer at level %d", level)
	}
	if _, err := w.Write(data); err != nil {
		return nil, errs.Wrap(errs.CompressionCorrupt, err, "deflate write")
	}
	if err := w.Close(); err != nil {
		return nil, errs.Wrap(errs.CompressionCorrupt, err, "deflate close")
	}
	return buf.Bytes(), nil
}

// Decompress decodes a zlib-wrapped deflate stream, failing
// CompressionCorrupt on malformed input.
func Decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.CompressionCorrupt, err, "open deflate stream")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(errs.CompressionCorrupt, err, "read deflate stream")
	}
	return out, nil
}
