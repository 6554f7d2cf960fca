// Package duckdb runs the pipeline on an embedded, in-memory DuckDB
// database. Every operator materializes its result as a new table so that
// failures surface in the stage that caused them.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	_ "github.com/duckdb/duckdb-go/v2"

	"dataprep/internal/datasource/file"
	"dataprep/internal/engine"
)

// Kind is the registered engine kind.
const Kind = "duckdb"

func init() {
	engine.Register(Kind, func(ctx context.Context, cfg engine.Config) (engine.Session, error) {
		return Open(ctx, cfg)
	})
}

// Session owns one in-memory DuckDB database.
type Session struct {
	db      *sql.DB
	tempDir string
	seq     atomic.Int64
}

// Open starts an in-memory database and applies cfg's tuning.
func Open(ctx context.Context, cfg engine.Config) (*Session, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	var settings []string
	if cfg.Threads > 0 {
		settings = append(settings, fmt.Sprintf("SET threads = %d", cfg.Threads))
	}
	if cfg.MemoryLimit != "" {
		settings = append(settings, "SET memory_limit = "+quoteLiteral(cfg.MemoryLimit))
	}
	if cfg.TempDir != "" {
		settings = append(settings, "SET temp_directory = "+quoteLiteral(cfg.TempDir))
	}
	for _, q := range settings {
		if _, err := db.ExecContext(ctx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf("duckdb %s: %w", q, err)
		}
	}
	return &Session{db: db, tempDir: cfg.TempDir}, nil
}

// Kind implements engine.Session.
func (s *Session) Kind() string { return Kind }

// Close implements engine.Session.
func (s *Session) Close() error { return s.db.Close() }

func (s *Session) nextName() string {
	return fmt.Sprintf("t_%d", s.seq.Add(1))
}

// create materializes query as a new table and returns it.
func (s *Session) create(ctx context.Context, query string) (*Table, error) {
	name := s.nextName()
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE "+quoteIdent(name)+" AS "+query); err != nil {
		return nil, err
	}
	return s.table(ctx, name)
}

// table describes an existing table.
func (s *Session) table(ctx context.Context, name string) (*Table, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}
	defer rows.Close()

	t := &Table{s: s, name: name}
	for rows.Next() {
		var col, typ string
		if err := rows.Scan(&col, &typ); err != nil {
			return nil, fmt.Errorf("describe %s: %w", name, err)
		}
		t.cols = append(t.cols, engine.Column{Name: col, Type: catalogType(typ), Native: typ})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}
	return t, nil
}

// ReadCSV implements engine.Session. DuckDB reads UTF-8 (optionally gzip
// or zstd compressed) directly; other charsets are transcoded to a scratch
// file first.
func (s *Session) ReadCSV(ctx context.Context, path string, opt engine.CSVOptions) (engine.Table, error) {
	src := path
	if in := file.NewLocal(path, file.WithEncoding(opt.Encoding)); in.NeedsDecoding() {
		tmp, err := s.transcode(ctx, in, opt.Encoding)
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp)
		src = tmp
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	delim := opt.Delimiter
	if delim == 0 {
		delim = ','
	}
	args := []string{
		quoteLiteral(src),
		fmt.Sprintf("header = %t", opt.Header),
		"delim = " + quoteLiteral(string(delim)),
		"auto_detect = true",
	}
	if !opt.InferSchema {
		args = append(args, "all_varchar = true")
	}
	if opt.NullValue != "" {
		args = append(args, "nullstr = ['', "+quoteLiteral(opt.NullValue)+"]")
	}

	t, err := s.create(ctx, "SELECT * FROM read_csv("+strings.Join(args, ", ")+")")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !opt.Header {
		for i, c := range t.cols {
			q := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", quoteIdent(t.name), quoteIdent(c.Name), quoteIdent(fmt.Sprintf("_c%d", i)))
			if _, err := s.db.ExecContext(ctx, q); err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
		}
		return s.table(ctx, t.name)
	}
	return t, nil
}

func (s *Session) transcode(ctx context.Context, in *file.Local, enc string) (string, error) {
	path := in.Path()
	f, err := os.CreateTemp(s.tempDir, "dataprep-*.csv")
	if err != nil {
		return "", fmt.Errorf("transcode %s: %w", path, err)
	}
	n, err := in.CopyTo(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("transcode %s: %w", path, err)
	}
	log.Printf("duckdb: transcoded %s from %s (%d bytes)", path, enc, n)
	return f.Name(), nil
}

// ReadParquet implements engine.Session.
func (s *Session) ReadParquet(ctx context.Context, path string) (engine.Table, error) {
	files, err := engine.DatasetFiles(path)
	if err != nil {
		return nil, err
	}
	lits := make([]string, len(files))
	for i, f := range files {
		lits[i] = quoteLiteral(f)
	}
	t, err := s.create(ctx, "SELECT * FROM read_parquet(["+strings.Join(lits, ", ")+"])")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}
