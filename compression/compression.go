// Package compression defines the TIFF Compression tag (259) values this
// codec cares about. The full TIFF spec defines many more; those are kept
// as recognized constants so a reader can name them in error messages, but
// only None and Deflate are ever emitted, and only those two are ever
// decoded.
package compression

import "fmt"

// Type is a TIFF Compression tag value.
type Type int

const (
	Unknown    Type = -1
	None       Type = 1
	CCITT      Type = 2
	G3         Type = 3
	G4         Type = 4
	LZW        Type = 5
	JPEGOld    Type = 6
	JPEG       Type = 7
	Deflate    Type = 8
	PackBits   Type = 32773
	DeflateOld Type = 32946
)

// String returns a readable name for the compression type.
func (c Type) String() string {
	switch c {
	case Unknown:
		return "Unknown"
	case None:
		return "None"
	case CCITT:
		return "CCITT"
	case G3:
		return "G3Fax"
	case G4:
		return "G4Fax"
	case LZW:
		return "LZW"
	case JPEGOld:
		return "JPEGOld"
	case JPEG:
		return "JPEG"
	case Deflate:
		return "Deflate"
	case PackBits:
		return "PackBits"
	case DeflateOld:
		return "DeflateOld"
	default:
		return fmt.Sprintf("CompressionType(%d)", int(c))
	}
}

// Supported reports whether the container codec can decode this
// compression. Only None and Deflate are understood; anything else read
// from a foreign file surfaces as UnsupportedTagCombination.
func (c Type) Supported() bool {
	return c == None || c == Deflate
}
