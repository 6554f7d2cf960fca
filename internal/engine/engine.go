// Package engine defines the relational capability the pipeline stages run
// on: a Session that loads tables, and immutable Tables offering the handful
// of operators the job needs (cast, grouped max, equi-join, sort, Parquet
// output).
//
// Concrete engines live in subpackages and register themselves by kind at
// init time, mirroring how storage backends are wired elsewhere:
//
//   - "duckdb" (dataprep/internal/engine/duckdb): embedded DuckDB, cgo
//   - "memory" (dataprep/internal/engine/memory): pure Go, single machine
//
// Import dataprep/internal/engine/all to make every engine available.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"dataprep/internal/schema"
)

var (
	// ErrUnknownEngine is returned by Open for an unregistered kind.
	ErrUnknownEngine = errors.New("engine: unknown engine kind")
	// ErrColumnNotFound is returned when an operator names a missing column.
	ErrColumnNotFound = errors.New("engine: column not found")
)

// Column is a named, typed column. Native carries the engine's own type
// name (e.g. "VARCHAR") and is informational only.
type Column struct {
	Name   string
	Type   schema.Type
	Native string
}

// Row is one tuple aligned to a table's column order. NULL is nil; other
// values use the Go representation documented in schema.ParseValue.
type Row []any

// JoinKey pairs a left column with the right column it must equal.
type JoinKey struct {
	Left, Right string
}

// CSVOptions controls Session.ReadCSV.
type CSVOptions struct {
	// Header reports whether the first line names the columns. Without it
	// columns are named _c0, _c1, ...
	Header bool
	// InferSchema narrows column types from the data; when false every
	// column is a string.
	InferSchema bool
	// Delimiter separates fields; zero means ','.
	Delimiter rune
	// Encoding is the input charset; empty means UTF-8.
	Encoding string
	// NullValue is an extra field text meaning NULL (the empty field always
	// does).
	NullValue string
}

// WriteOptions controls Table.WriteParquet.
type WriteOptions struct {
	Compression Compression
}

// Table is an immutable relation. Every operator returns a new Table and
// leaves the receiver untouched.
type Table interface {
	// Columns returns the schema in column order.
	Columns() []Column
	// Count returns the number of rows.
	Count(ctx context.Context) (int64, error)
	// Rows materializes every row in table order.
	Rows(ctx context.Context) ([]Row, error)

	// Cast converts column i to types[i]; len(types) must equal the column
	// count. Names and positions are preserved. In schema.Strict mode an
	// unconvertible value fails the cast, in schema.Lenient mode it becomes
	// NULL.
	Cast(ctx context.Context, types []schema.Type, mode schema.CastMode) (Table, error)

	// GroupMax groups by key and returns two columns: key and max(value)
	// named alias. NULL values are ignored by max.
	GroupMax(ctx context.Context, key, value, alias string) (Table, error)

	// Join is an inner equi-join projecting the receiver's columns only.
	// NULL keys never match.
	Join(ctx context.Context, right Table, on []JoinKey) (Table, error)

	// Sort orders rows by the column at index col, ascending, NULLs first.
	Sort(ctx context.Context, col int) (Table, error)

	// WriteParquet writes the table as a single Parquet file at path,
	// replacing any existing file.
	WriteParquet(ctx context.Context, path string, opt WriteOptions) error
}

// Session is an engine runtime. It is created once per run, passed to every
// stage and closed at the end; Tables must not be used after Close.
type Session interface {
	// Kind returns the registered engine kind.
	Kind() string
	// ReadCSV loads a delimited text file.
	ReadCSV(ctx context.Context, path string, opt CSVOptions) (Table, error)
	// ReadParquet loads a Parquet file, or every *.parquet file of a
	// dataset directory.
	ReadParquet(ctx context.Context, path string) (Table, error)
	// Close releases the runtime.
	Close() error
}

// Config selects and tunes an engine.
type Config struct {
	// Kind is a registered engine kind; empty means DefaultKind.
	Kind string
	// Threads bounds internal parallelism; 0 lets the engine decide.
	Threads int
	// MemoryLimit is an engine-specific memory cap such as "4GB".
	MemoryLimit string
	// TempDir holds scratch files; empty means the OS default.
	TempDir string
}

// DefaultKind is used when Config.Kind is empty.
const DefaultKind = "duckdb"

// Factory opens a Session of one kind.
type Factory func(ctx context.Context, cfg Config) (Session, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for kind. It is typically
// called from engine packages' init() functions.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// Kinds lists the registered engine kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open looks up the factory for cfg.Kind and opens a Session.
func Open(ctx context.Context, cfg Config) (Session, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = DefaultKind
	}
	mu.RLock()
	f, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownEngine, kind, strings.Join(Kinds(), ", "))
	}
	cfg.Kind = kind
	return f(ctx, cfg)
}

// ColumnIndex returns the position of name in cols.
func ColumnIndex(cols []Column, name string) (int, error) {
	for i, c := range cols {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

// Describe renders cols as "name:type, ..." for log lines.
func Describe(cols []Column) string {
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteByte(':')
		b.WriteString(string(c.Type))
	}
	return b.String()
}

// DatasetFiles resolves path to the Parquet files it denotes: path itself
// when it is a file, else every *.parquet file directly inside the
// directory in name order, skipping names starting with "_" or ".".
func DatasetFiles(path string) ([]string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	if !st.IsDir() {
		return []string{path}, nil
	}
	ents, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	var files []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		files = append(files, filepath.Join(path, name))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("read parquet: no parquet files in %s", path)
	}
	sort.Strings(files)
	return files, nil
}
