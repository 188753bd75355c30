// Package errs defines the closed set of error kinds surfaced by the
// bridge between the OME-TIFF and OME-Zarr data models.
//
// Every exported operation in this module fails, if it fails at all, with
// an *errs.Error carrying one of these kinds. Callers that need to branch
// on failure mode should use errors.As and inspect Kind(), not string
// matching on Error().
package errs

import "fmt"

// Kind is a closed enumeration of the failure modes the bridge can report.
type Kind int

const (
	// TruncatedFile means a read ran past the end of the byte source.
	TruncatedFile Kind = iota + 1
	// BadMagic means the header's endianness marker or magic number was
	// not one this codec emits or accepts ("II", 42 or 43).
	BadMagic
	// BadOffset means a computed or stored absolute offset could not be
	// resolved within the file.
	BadOffset
	// BadTagType means an IFD entry's TIFF type code was malformed for
	// its tag, or its count/value-width combination was inconsistent.
	BadTagType
	// UnsupportedTagCombination means an IFD declared tags that are
	// individually valid but jointly unsupported (e.g. both tile and
	// strip layout tags present).
	UnsupportedTagCombination
	// InvalidDimensionOrder means an OME-XML DimensionOrder attribute
	// was not one of the six XY-prefixed permutations of Z/C/T.
	InvalidDimensionOrder
	// InvalidXml means the input text was not recognizable OME-XML.
	InvalidXml
	// UnsupportedDtype means a (sample-format, bit-depth) or OME type
	// string fell outside the supported dtype bijection table.
	UnsupportedDtype
	// NoSuchLevel means a pyramid level index was out of range or its
	// SubIFD link was missing.
	NoSuchLevel
	// NoSuchPlane means a (c, z, t) selection had no corresponding IFD.
	NoSuchPlane
	// CompressionCorrupt means a deflate stream failed to decode.
	CompressionCorrupt
	// FileTooLarge means a classic-format write would exceed 2^32-2
	// bytes of addressable offset.
	FileTooLarge
	// Cancelled means a caller-supplied cancellation signal fired.
	Cancelled
)

var names = map[Kind]string{
	TruncatedFile:              "TruncatedFile",
	BadMagic:                   "BadMagic",
	BadOffset:                  "BadOffset",
	BadTagType:                 "BadTagType",
	UnsupportedTagCombination:  "UnsupportedTagCombination",
	InvalidDimensionOrder:      "InvalidDimensionOrder",
	InvalidXml:                 "InvalidXml",
	UnsupportedDtype:           "UnsupportedDtype",
	NoSuchLevel:                "NoSuchLevel",
	NoSuchPlane:                "NoSuchPlane",
	CompressionCorrupt:         "CompressionCorrupt",
	FileTooLarge:               "FileTooLarge",
	Cancelled:                  "Cancelled",
}

func (k Kind) String() string {
	if name, ok := names[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the single error type returned across the bridge's API surface.
// It carries a Kind for programmatic branching plus a human-readable
// message and an optional wrapped cause.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New creates an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind that wraps an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Kind returns the error's kind.
func (e *Error) Kind() Kind { return e.kind }

// Unwrap returns the wrapped cause, if any, for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, errs.New(errs.NoSuchLevel, "")) style checks, though
// the idiomatic form is errors.As plus a Kind() comparison.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == other.kind
}
