// Package file implements a local filesystem-backed data source.
//
// Inputs may be compressed (".gz", ".zst") and encoded in any charset known
// to the WHATWG encoding index ("utf-8", "windows-1250", "iso-8859-2", ...).
// Open always yields plain UTF-8 with any byte order mark removed.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Compression identifies the container format of an input file.
type Compression string

const (
	None Compression = ""
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
)

// Local is a filesystem data source that opens files from the local disk.
type Local struct {
	path     string
	encoding string
}

// Option configures a Local source.
type Option func(*Local)

// WithEncoding sets the charset of the file contents. The empty string means
// UTF-8.
func WithEncoding(name string) Option {
	return func(l *Local) { l.encoding = name }
}

// NewLocal returns a new Local data source bound to the provided filesystem
// path. The returned value is safe for concurrent use by multiple goroutines
// as long as the underlying path location is valid for concurrent reads.
func NewLocal(path string, opts ...Option) *Local {
	l := &Local{path: path}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Path returns the configured filesystem path.
func (l *Local) Path() string { return l.path }

// Compression reports the container format guessed from the file extension.
func (l *Local) Compression() Compression { return CompressionOf(l.path) }

// NeedsDecoding reports whether the contents are in a charset other than
// UTF-8, i.e. whether a consumer that only understands UTF-8 must read
// through Open rather than from the path directly.
func (l *Local) NeedsDecoding() bool { return !IsUTF8(l.encoding) }

// Open opens the configured path for reading and returns an io.ReadCloser
// producing decompressed UTF-8 text.
//
// Behavior:
//   - If the context is already canceled or its deadline exceeded at the time
//     of the call, Open returns the context error immediately without touching
//     the filesystem.
//   - Any filesystem error is wrapped with the path for context, while still
//     permitting errors.Is/As checks by callers (e.g., errors.Is(err, os.ErrNotExist)).
//   - An unknown encoding name is an error.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	enc, err := lookupEncoding(l.encoding)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}

	var r io.Reader = f
	closers := []io.Closer{f}

	switch l.Compression() {
	case Gzip:
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open %s: gzip: %w", l.path, err)
		}
		r = zr
		closers = append([]io.Closer{zr}, closers...)
	case Zstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open %s: zstd: %w", l.path, err)
		}
		r = zr
		closers = append([]io.Closer{zr.IOReadCloser()}, closers...)
	}

	r = transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder()))
	return &readCloser{Reader: r, closers: closers}, nil
}

// CopyTo streams the decoded contents into w and returns the number of bytes
// written. It is used to hand non-UTF-8 input to consumers that read paths.
func (l *Local) CopyTo(ctx context.Context, w io.Writer) (int64, error) {
	rc, err := l.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.Copy(w, rc)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", l.path, err)
	}
	return n, nil
}

// CompressionOf guesses the container format from a file name.
func CompressionOf(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return Gzip
	case ".zst", ".zstd":
		return Zstd
	}
	return None
}

// IsUTF8 reports whether name denotes UTF-8 (the empty name does).
func IsUTF8(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8", "unicode-1-1-utf-8":
		return true
	}
	return false
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if IsUTF8(name) {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// readCloser closes every layer of a decoded stream, decompressor first.
type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var first error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
