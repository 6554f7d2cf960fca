// Package memory is a pure-Go engine holding tables as typed columns in
// process memory. It needs no cgo and suits inputs that fit in RAM; the
// duckdb engine is preferred for anything larger.
package memory

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"dataprep/internal/datasource/file"
	"dataprep/internal/engine"
	pcsv "dataprep/internal/parser/csv"
	"dataprep/internal/schema"
)

// Kind is the registered engine kind.
const Kind = "memory"

func init() {
	engine.Register(Kind, func(ctx context.Context, cfg engine.Config) (engine.Session, error) {
		return Open(ctx, cfg)
	})
}

// Session is the in-memory engine runtime.
type Session struct {
	threads int
	closed  atomic.Bool
}

// Open returns a Session. MemoryLimit and TempDir are ignored.
func Open(ctx context.Context, cfg engine.Config) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := cfg.Threads
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if cfg.MemoryLimit != "" {
		log.Printf("memory engine: memory_limit %q ignored", cfg.MemoryLimit)
	}
	return &Session{threads: n}, nil
}

// Kind implements engine.Session.
func (s *Session) Kind() string { return Kind }

// Close implements engine.Session. It is idempotent.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Session) check() error {
	if s.closed.Load() {
		return fmt.Errorf("memory engine: session closed")
	}
	return nil
}

// ReadCSV loads path through the local data source, so compressed and
// non-UTF-8 inputs are handled transparently.
func (s *Session) ReadCSV(ctx context.Context, path string, opt engine.CSVOptions) (engine.Table, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rc, err := file.NewLocal(path, file.WithEncoding(opt.Encoding)).Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	res, err := pcsv.NewParser(pcsv.Options{
		HasHeader: opt.Header,
		Comma:     opt.Delimiter,
		NullValue: opt.NullValue,
	}).Parse(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	t := &Table{s: s, n: len(res.Rows), cols: make([]column, len(res.Header))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.threads)
	for j, name := range res.Header {
		g.Go(func() error {
			typ := schema.String
			if opt.InferSchema {
				present := make([]string, 0, len(res.Rows))
				for _, r := range res.Rows {
					if r[j] != nil {
						present = append(present, *r[j])
					}
				}
				typ = schema.InferType(present)
			}
			vals := make([]any, len(res.Rows))
			for i, r := range res.Rows {
				if i%checkEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				if r[j] == nil {
					continue
				}
				v, err := schema.ParseValue(*r[j], typ)
				if err != nil {
					// Inference accepted every value, so this only happens
					// for whitespace-only text in a typed column.
					continue
				}
				vals[i] = v
			}
			t.cols[j] = column{Column: engine.Column{Name: name, Type: typ, Native: string(typ)}, values: vals}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return t, nil
}

// checkEvery is how many rows an operator processes between context checks.
const checkEvery = 8192
