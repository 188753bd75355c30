// Package bytesource defines the minimal random-access byte source
// collaborator the core consumes, plus the file-backed,
// in-memory, and HTTP-range-backed implementations an OME-TIFF bridge
// needs in practice. The interface itself is the contract; which backend
// a caller plugs in is outside the core's concern.
package bytesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/ome2zarr/bridge/internal/errs"
)

// ByteSource is the capability a TiffFile needs from its backing storage:
// a known length and non-overlapping, concurrency-safe ranged reads.
type ByteSource interface {
	// Len returns the total size of the source in bytes.
	Len() int64
	// ReadAt reads len(p) bytes starting at off. Reads past end-of-file
	// fail with a TruncatedFile error. Implementations must support
	// concurrent, non-overlapping calls.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
}

// FileSource adapts an *os.File (or anything satisfying io.ReaderAt) into
// a ByteSource.
type FileSource struct {
	r    io.ReaderAt
	size int64
}

// NewFileSource wraps an io.ReaderAt of known size.
func NewFileSource(r io.ReaderAt, size int64) *FileSource {
	return &FileSource{r: r, size: size}
}

// OpenFile opens path and stats it to determine the source length.
func OpenFile(path string) (*FileSource, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errs.Wrap(errs.TruncatedFile, err, "open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errs.Wrap(errs.TruncatedFile, err, "stat %s", path)
	}
	return NewFileSource(f, info.Size()), f, nil
}

func (s *FileSource) Len() int64 { return s.size }

func (s *FileSource) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, errs.New(errs.TruncatedFile, "read [%d,%d) exceeds source length %d", off, off+int64(len(p)), s.size)
	}
	if err := ctx.Err(); err != nil {
		return 0, errs.Wrap(errs.Cancelled, err, "read cancelled before issue")
	}
	n, err := s.r.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, errs.Wrap(errs.TruncatedFile, err, "read at offset %d", off)
	}
	return n, nil
}

// MemorySource wraps an in-memory byte slice as a ByteSource; useful for
// tests and for small files already fully buffered.
type MemorySource struct {
	data []byte
}

// NewMemorySource wraps data without copying it.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

func (s *MemorySource) Len() int64 { return int64(len(s.data)) }

func (s *MemorySource) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(s.data)) {
		return 0, errs.New(errs.TruncatedFile, "read [%d,%d) exceeds source length %d", off, off+int64(len(p)), len(s.data))
	}
	if err := ctx.Err(); err != nil {
		return 0, errs.Wrap(errs.Cancelled, err, "read cancelled before issue")
	}
	n := copy(p, s.data[off:off+int64(len(p))])
	return n, nil
}

// HTTPRangeSource reads a remote resource through HTTP Range requests,
// the pattern an object-store-backed OME-TIFF (e.g. an S3/blob URL) needs
// in place of a local file descriptor.
type HTTPRangeSource struct {
	client *http.Client
	url    string
	size   int64
}

// NewHTTPRangeSource issues a HEAD request to discover the resource's
// length, then returns a ByteSource that range-reads from it.
func NewHTTPRangeSource(ctx context.Context, client *http.Client, url string) (*HTTPRangeSource, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.TruncatedFile, err, "build HEAD request for %s", url)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.TruncatedFile, err, "HEAD %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.TruncatedFile, "HEAD %s: unexpected status %s", url, resp.Status)
	}
	return &HTTPRangeSource{client: client, url: url, size: resp.ContentLength}, nil
}

func (s *HTTPRangeSource) Len() int64 { return s.size }

func (s *HTTPRangeSource) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > s.size {
		return 0, errs.New(errs.TruncatedFile, "read [%d,%d) exceeds source length %d", off, off+int64(len(p)), s.size)
	}
	if len(p) == 0 {
		return 0, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, errs.Wrap(errs.TruncatedFile, err, "build range request")
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1))
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, errs.Wrap(errs.TruncatedFile, err, "range request to %s", s.url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, errs.New(errs.TruncatedFile, "range request to %s: unexpected status %s", s.url, resp.Status)
	}
	n, err := io.ReadFull(resp.Body, p)
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, errs.Wrap(errs.TruncatedFile, err, "read range body")
	}
	return n, nil
}

// FromSeeker adapts an io.ReadSeeker (which cannot in general be read
// concurrently) into an io.ReaderAt suitable for NewFileSource, serializing
// access with an internal mutex, since this bridge's ByteSource contract
// requires concurrency-safety that a bare seek-then-read pair does not
// provide.
type FromSeeker struct {
	rs  io.ReadSeeker
	mu  chan struct{}
}

// NewFromSeeker wraps rs. The returned io.ReaderAt is safe for concurrent
// use; callers are serialized on the underlying seek+read pair.
func NewFromSeeker(rs io.ReadSeeker) *FromSeeker {
	f := &FromSeeker{rs: rs, mu: make(chan struct{}, 1)}
	f.mu <- struct{}{}
	return f
}

func (f *FromSeeker) ReadAt(p []byte, off int64) (int, error) {
	<-f.mu
	defer func() { f.mu <- struct{}{} }()
	if _, err := f.rs.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(f.rs, p)
}
