// Package storage persists tables as Parquet dataset directories: one
// part file plus an empty _SUCCESS marker, the layout Spark and most
// lakehouse readers expect.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"dataprep/internal/engine"
)

// SuccessMarker is the empty file written last into a complete dataset.
const SuccessMarker = "_SUCCESS"

// ErrUnsafeDestination is returned for destinations that must never be
// overwritten: the filesystem root, the working directory or any of its
// ancestors, and any directory holding a protected path.
var ErrUnsafeDestination = errors.New("storage: refusing to overwrite destination")

// Options controls WriteParquet.
type Options struct {
	Compression engine.Compression
	// Protect lists paths the overwrite must not remove, typically the
	// run's input files. Empty entries are ignored.
	Protect []string
}

// Result describes a written dataset.
type Result struct {
	Dir   string
	Part  string // path of the part file inside Dir
	Bytes int64
}

// WriteParquet writes t into the dataset directory dir, replacing whatever
// exists there. The replacement is not atomic: a failure after the old
// content is removed leaves dir without a _SUCCESS marker.
func WriteParquet(ctx context.Context, t engine.Table, dir string, opt Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := checkDestination(dir, opt.Protect); err != nil {
		return Result{}, err
	}
	if opt.Compression == "" {
		opt.Compression = engine.Snappy
	}

	if err := os.RemoveAll(dir); err != nil {
		return Result{}, fmt.Errorf("overwrite %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create %s: %w", dir, err)
	}

	part := filepath.Join(dir, fmt.Sprintf("part-00000-%s%s.parquet", uuid.NewString(), opt.Compression.Extension()))
	if err := t.WriteParquet(ctx, part, engine.WriteOptions{Compression: opt.Compression}); err != nil {
		return Result{}, err
	}
	st, err := os.Stat(part)
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", part, err)
	}
	if err := os.WriteFile(filepath.Join(dir, SuccessMarker), nil, 0o644); err != nil {
		return Result{}, fmt.Errorf("mark %s: %w", dir, err)
	}

	log.Printf("storage: wrote %s (%s, %s)", part, humanize.Bytes(uint64(st.Size())), opt.Compression)
	return Result{Dir: dir, Part: part, Bytes: st.Size()}, nil
}

func checkDestination(dir string, protect []string) error {
	if dir == "" {
		return fmt.Errorf("%w: empty path", ErrUnsafeDestination)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}
	if abs == filepath.Dir(abs) {
		return fmt.Errorf("%w: %s is a filesystem root", ErrUnsafeDestination, dir)
	}
	if wd, err := os.Getwd(); err == nil && Contains(abs, wd) {
		return fmt.Errorf("%w: %s holds the working directory", ErrUnsafeDestination, dir)
	}
	for _, p := range protect {
		if p == "" {
			continue
		}
		pa, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		if Contains(abs, pa) {
			return fmt.Errorf("%w: %s holds %s", ErrUnsafeDestination, dir, p)
		}
	}
	return nil
}

// Contains reports whether path is dir itself or lies beneath it. The paths
// are compared lexically, so both must be absolute or both relative to the
// same directory; symlinks are not resolved.
func Contains(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// IsComplete reports whether dir holds a dataset whose write finished.
func IsComplete(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, SuccessMarker))
	return err == nil
}
