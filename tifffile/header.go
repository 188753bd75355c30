package tifffile

import (
	"context"
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ome2zarr/bridge/bytesource"
	"github.com/ome2zarr/bridge/internal/errs"
)

const (
	magicClassic = 42
	magicBigTIFF = 43

	classicHeaderSize = 8
	bigTIFFHeaderSize = 16

	ifdCacheSize = 512
)

// TiffFile is an opened classic-or-BigTIFF container: a header plus lazy,
// offset-cached access to its IFD chain.
type TiffFile struct {
	Source         bytesource.ByteSource
	BigTIFF        bool
	FirstIFDOffset uint64

	ifdCache *lru.Cache // absolute offset -> *IFD
}

// headerSize returns the number of bytes this file's header occupies.
func (f *TiffFile) headerSize() int64 {
	if f.BigTIFF {
		return bigTIFFHeaderSize
	}
	return classicHeaderSize
}

// Open parses the TIFF/BigTIFF header from source and prepares the file
// for lazy IFD access. Only little-endian ("II") files are
// accepted; reading big-endian TIFF is explicitly out of scope.
func Open(ctx context.Context, source bytesource.ByteSource) (*TiffFile, error) {
	prefix := make([]byte, 4)
	if n, err := source.ReadAt(ctx, prefix, 0); err != nil || n < 4 {
		return nil, errs.Wrap(errs.TruncatedFile, err, "reading TIFF byte-order marker and magic")
	}
	if string(prefix[0:2]) != "II" {
		return nil, errs.New(errs.BadMagic, "unsupported byte-order marker %q, only little-endian II is accepted", prefix[0:2])
	}
	magic := binary.LittleEndian.Uint16(prefix[2:4])

	cache, err := lru.New(ifdCacheSize)
	if err != nil {
		return nil, errs.Wrap(errs.BadOffset, err, "allocate IFD cache")
	}

	switch magic {
	case magicClassic:
		rest := make([]byte, 4)
		if _, err := source.ReadAt(ctx, rest, 4); err != nil {
			return nil, errs.Wrap(errs.TruncatedFile, err, "reading classic TIFF header tail")
		}
		return &TiffFile{
			Source:         source,
			BigTIFF:        false,
			FirstIFDOffset: uint64(binary.LittleEndian.Uint32(rest)),
			ifdCache:       cache,
		}, nil
	case magicBigTIFF:
		rest := make([]byte, 12)
		if _, err := source.ReadAt(ctx, rest, 4); err != nil {
			return nil, errs.Wrap(errs.TruncatedFile, err, "reading BigTIFF header tail")
		}
		offsetWidth := binary.LittleEndian.Uint16(rest[0:2])
		if offsetWidth != 8 {
			return nil, errs.New(errs.BadMagic, "BigTIFF offset width must be 8, got %d", offsetWidth)
		}
		return &TiffFile{
			Source:         source,
			BigTIFF:        true,
			FirstIFDOffset: binary.LittleEndian.Uint64(rest[4:12]),
			ifdCache:       cache,
		}, nil
	default:
		return nil, errs.New(errs.BadMagic, "unrecognized TIFF magic %d, expected 42 or 43", magic)
	}
}
