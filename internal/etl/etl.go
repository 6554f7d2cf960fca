// Package etl drives one dataprep run: load a CSV file into an engine
// session, cast its columns to the types mapping, keep each identifier's most
// recent rows and write the result as a Parquet dataset.
//
// A Job owns nothing between runs. Run opens the engine session, threads it
// through every stage and closes it before returning.
package etl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"dataprep/internal/engine"
	"dataprep/internal/metrics"
	"dataprep/internal/schema"
	"dataprep/internal/storage"
	"dataprep/internal/transformer"

	"github.com/dustin/go-humanize"
)

// Stage names used in logs, metrics labels and wrapped errors.
const (
	StageLoad   = "load"
	StageCast   = "cast"
	StageDedup  = "dedup"
	StageWrite  = "write"
	StageVerify = "verify"
)

// ErrVerify is returned when the written dataset does not read back with the
// expected row count.
var ErrVerify = errors.New("etl: verification failed")

// Job is a configured run. Build it with New or FromPipeline.
type Job struct {
	name       string
	input      string
	schemaPath string
	output     string

	csv            engine.CSVOptions
	engine         engine.Config
	schemaRequired bool
	castMode       schema.CastMode
	idField        string
	recencyField   string
	compression    engine.Compression
	verify         bool
}

// StageTiming is the wall time of one stage.
type StageTiming struct {
	Name     string
	Duration time.Duration
}

// Summary reports what a run did.
type Summary struct {
	Job        string
	RowsRead   int64
	RowsOutput int64
	// Dropped counts rows removed by dedup: older versions of an identifier
	// and rows whose identifier or recency is NULL.
	Dropped  int64
	Columns  []engine.Column
	Output   storage.Result
	Verified bool
	Stages   []StageTiming
	Elapsed  time.Duration
}

// New returns a job reading input, casting with the mapping at schemaPath
// and writing the dataset directory output. An empty schemaPath means no
// mapping. Without options the CSV has a header, types are inferred, casts
// are strict, rows are deduplicated on id/update_date and Parquet is
// snappy-compressed.
func New(input, schemaPath, output string, opts ...Option) *Job {
	j := &Job{
		name:       DefaultJob,
		input:      input,
		schemaPath: schemaPath,
		output:     output,
		csv: engine.CSVOptions{
			Header:      true,
			InferSchema: true,
			Delimiter:   ',',
		},
		engine:       engine.Config{Kind: engine.DefaultKind},
		castMode:     schema.Strict,
		idField:      transformer.DefaultIDField,
		recencyField: transformer.DefaultRecencyField,
		compression:  engine.Snappy,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run executes the job. Any stage failure aborts the run; the error names the
// stage. The session is closed on every path.
func (j *Job) Run(ctx context.Context) (sum Summary, err error) {
	start := time.Now()
	sum.Job = j.name

	log.Printf("%s: starting: input=%s schema=%s output=%s engine=%s", j.name, j.input, orNone(j.schemaPath), j.output, j.engine.Kind)

	sess, err := engine.Open(ctx, j.engine)
	if err != nil {
		return sum, fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close engine: %w", cerr)
		}
		sum.Elapsed = time.Since(start)
	}()

	var loaded engine.Table
	err = j.stage(ctx, &sum, StageLoad, func() error {
		log.Printf("%s: loading %s", j.name, j.input)
		t, err := sess.ReadCSV(ctx, j.input, j.csv)
		if err != nil {
			return err
		}
		if sum.RowsRead, err = t.Count(ctx); err != nil {
			return err
		}
		metrics.RecordRows(j.name, metrics.RowsRead, sum.RowsRead)
		log.Printf("%s: loaded %s rows [%s]", j.name, humanize.Comma(sum.RowsRead), engine.Describe(t.Columns()))
		loaded = t
		return nil
	})
	if err != nil {
		return sum, err
	}

	steps := transformer.Chain{
		j.step(&sum, StageCast, func(ctx context.Context, t engine.Table) (engine.Table, error) {
			m, err := j.mapping()
			if err != nil {
				return nil, err
			}
			log.Printf("%s: casting columns (%d mapped, %s mode)", j.name, len(m), j.castMode)
			return transformer.Caster{Mapping: m, Mode: j.castMode}.Apply(ctx, t)
		}),
		j.step(&sum, StageDedup, func(ctx context.Context, t engine.Table) (engine.Table, error) {
			log.Printf("%s: deduplicating on %s by max(%s)", j.name, j.idField, j.recencyField)
			out, err := transformer.Deduplicator{IDField: j.idField, RecencyField: j.recencyField}.Apply(ctx, t)
			if err != nil {
				return nil, err
			}
			if sum.RowsOutput, err = out.Count(ctx); err != nil {
				return nil, err
			}
			sum.Dropped = sum.RowsRead - sum.RowsOutput
			metrics.RecordRows(j.name, metrics.RowsDuplicates, sum.Dropped)
			log.Printf("%s: kept %s rows, dropped %s", j.name, humanize.Comma(sum.RowsOutput), humanize.Comma(sum.Dropped))
			sum.Columns = out.Columns()
			return out, nil
		}),
	}
	latest, err := steps.Apply(ctx, loaded)
	if err != nil {
		return sum, err
	}

	err = j.stage(ctx, &sum, StageWrite, func() error {
		log.Printf("%s: writing %s (%s)", j.name, j.output, j.compression)
		res, err := storage.WriteParquet(ctx, latest, j.output, storage.Options{
			Compression: j.compression,
			Protect:     []string{j.input, j.schemaPath},
		})
		if err != nil {
			return err
		}
		sum.Output = res
		metrics.RecordRows(j.name, metrics.RowsWritten, sum.RowsOutput)
		metrics.RecordBytes(j.name, res.Bytes)
		return nil
	})
	if err != nil {
		return sum, err
	}

	if j.verify {
		err = j.stage(ctx, &sum, StageVerify, func() error {
			back, err := sess.ReadParquet(ctx, sum.Output.Dir)
			if err != nil {
				return err
			}
			n, err := back.Count(ctx)
			if err != nil {
				return err
			}
			if n != sum.RowsOutput {
				return fmt.Errorf("%w: %s holds %d rows, want %d", ErrVerify, sum.Output.Dir, n, sum.RowsOutput)
			}
			sum.Verified = true
			log.Printf("%s: verified %s rows in %s", j.name, humanize.Comma(n), sum.Output.Dir)
			return nil
		})
		if err != nil {
			return sum, err
		}
	}

	log.Printf("%s: done in %s", j.name, time.Since(start).Truncate(time.Millisecond))
	return sum, nil
}

// stage runs fn as the named stage, timing it and recording its outcome.
func (j *Job) stage(ctx context.Context, sum *Summary, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := j.observe(sum, name, fn); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// observe times fn and records it as the named stage.
func (j *Job) observe(sum *Summary, name string, fn func() error) error {
	t0 := time.Now()
	err := fn()
	d := time.Since(t0)

	metrics.RecordStage(j.name, name, err, d)
	sum.Stages = append(sum.Stages, StageTiming{Name: name, Duration: d})
	return err
}

// step is a timed transformer stage. transformer.Chain names its errors.
type step struct {
	name string
	job  *Job
	sum  *Summary
	run  func(ctx context.Context, t engine.Table) (engine.Table, error)
}

func (j *Job) step(sum *Summary, name string, run func(context.Context, engine.Table) (engine.Table, error)) step {
	return step{name: name, job: j, sum: sum, run: run}
}

func (s step) Name() string { return s.name }

func (s step) Apply(ctx context.Context, t engine.Table) (engine.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out engine.Table
	err := s.job.observe(s.sum, s.name, func() error {
		var err error
		out, err = s.run(ctx, t)
		return err
	})
	return out, err
}

// mapping loads the types mapping. An empty path behaves like a missing
// document.
func (j *Job) mapping() (schema.Mapping, error) {
	if strings.TrimSpace(j.schemaPath) == "" {
		if j.schemaRequired {
			return nil, fmt.Errorf("%w: no path configured", schema.ErrMappingNotFound)
		}
		log.Printf("%s: no types mapping configured; columns keep their loaded types", j.name)
		return schema.Mapping{}, nil
	}
	return schema.LoadMapping(j.schemaPath, schema.LoadOptions{Required: j.schemaRequired})
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
