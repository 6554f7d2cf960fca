package etl

import (
	"fmt"

	"dataprep/internal/config"
	"dataprep/internal/engine"
	"dataprep/internal/schema"
)

// DefaultJob names runs that were not given a job name.
const DefaultJob = config.DefaultJob

// Option configures a Job.
type Option func(*Job)

// WithHeader sets whether the first CSV line holds column names.
func WithHeader(v bool) Option { return func(j *Job) { j.csv.Header = v } }

// WithInferSchema sets whether column types are inferred from the data.
func WithInferSchema(v bool) Option { return func(j *Job) { j.csv.InferSchema = v } }

// WithDelimiter sets the CSV field separator.
func WithDelimiter(r rune) Option { return func(j *Job) { j.csv.Delimiter = r } }

// WithEncoding sets the input charset, e.g. "windows-1250".
func WithEncoding(enc string) Option { return func(j *Job) { j.csv.Encoding = enc } }

// WithNullValue sets an extra field text that loads as NULL.
func WithNullValue(s string) Option { return func(j *Job) { j.csv.NullValue = s } }

// WithEngine selects the engine kind ("duckdb" or "memory").
func WithEngine(kind string) Option { return func(j *Job) { j.engine.Kind = kind } }

// WithEngineConfig replaces the whole engine configuration.
func WithEngineConfig(cfg engine.Config) Option { return func(j *Job) { j.engine = cfg } }

// WithSchemaRequired makes a missing types mapping fatal.
func WithSchemaRequired(v bool) Option { return func(j *Job) { j.schemaRequired = v } }

// WithCastMode selects strict or lenient casting.
func WithCastMode(m schema.CastMode) Option { return func(j *Job) { j.castMode = m } }

// WithDedupFields overrides the identifier and recency columns. Empty
// arguments keep the current value.
func WithDedupFields(id, recency string) Option {
	return func(j *Job) {
		if id != "" {
			j.idField = id
		}
		if recency != "" {
			j.recencyField = recency
		}
	}
}

// WithCompression sets the Parquet codec.
func WithCompression(c engine.Compression) Option { return func(j *Job) { j.compression = c } }

// WithVerify reads the dataset back after writing and checks its row count.
func WithVerify(v bool) Option { return func(j *Job) { j.verify = v } }

// WithJob names the run in logs and metrics.
func WithJob(name string) Option {
	return func(j *Job) {
		if name != "" {
			j.name = name
		}
	}
}

// FromPipeline builds a Job from a decoded pipeline. The pipeline should
// have passed config.ValidatePipeline; values that cannot be interpreted are
// still reported here.
func FromPipeline(p config.Pipeline, extra ...Option) (*Job, error) {
	mode, err := schema.ParseCastMode(p.Transform.CastMode)
	if err != nil {
		return nil, err
	}
	comp, err := engine.ParseCompression(p.Storage.Compression)
	if err != nil {
		return nil, err
	}
	if p.Parser.Kind != "" && p.Parser.Kind != "csv" {
		return nil, fmt.Errorf("etl: unsupported parser kind %q", p.Parser.Kind)
	}

	o := p.Parser.Options
	opts := []Option{
		WithJob(p.Job),
		WithHeader(o.Bool("has_header", true)),
		WithInferSchema(o.Bool("infer_schema", true)),
		WithDelimiter(o.Rune("delimiter", ',')),
		WithEncoding(o.String("encoding", "")),
		WithNullValue(o.String("null_value", "")),
		WithSchemaRequired(p.Schema.Required),
		WithCastMode(mode),
		WithDedupFields(p.Transform.Dedup.IDField, p.Transform.Dedup.RecencyField),
		WithCompression(comp),
		WithEngineConfig(engine.Config{
			Kind:        p.Engine.Kind,
			Threads:     p.Engine.Threads,
			MemoryLimit: p.Engine.MemoryLimit,
			TempDir:     p.Engine.TempDir,
		}),
		WithVerify(p.Runtime.Verify),
	}
	return New(p.Source.Path, p.Schema.Path, p.Storage.Path, append(opts, extra...)...), nil
}
