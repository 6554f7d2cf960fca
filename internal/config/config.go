// Package config defines the configuration model of a dataprep job. A
// pipeline file describes one run end to end: where the CSV comes from, how
// it is parsed, where the types mapping lives, how rows are cast and
// deduplicated, which engine runs the job and where the Parquet dataset goes.
//
// Pipelines decode from JSON or YAML with the same field names. Example:
//
//	job: users
//	source:    {kind: file, path: data/input/users/load.csv}
//	parser:    {kind: csv, options: {has_header: true, infer_schema: true, delimiter: ","}}
//	schema:    {path: config/types_mapping.json}
//	transform: {cast_mode: strict, dedup: {id_field: id, recency_field: update_date}}
//	storage:   {kind: parquet, path: data/output, compression: snappy}
//	engine:    {kind: duckdb}
//	runtime:   {verify: true}
package config

import "encoding/json"

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run for logs and metrics labels.
	Job string `json:"job" yaml:"job"`

	// Source describes where input data comes from.
	Source Source `json:"source" yaml:"source"`

	// Parser configures how the input file is read into a table.
	Parser Parser `json:"parser" yaml:"parser"`

	// Schema locates the types mapping document.
	Schema Schema `json:"schema" yaml:"schema"`

	// Transform configures the cast and dedup stages.
	Transform Transform `json:"transform" yaml:"transform"`

	// Storage describes where the result is written.
	Storage Storage `json:"storage" yaml:"storage"`

	// Engine selects and tunes the relational engine.
	Engine Engine `json:"engine" yaml:"engine"`

	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`
}

// Source identifies the input file.
type Source struct {
	// Kind selects the source implementation. Current value: "file".
	Kind string `json:"kind" yaml:"kind"`

	// Path is the local filesystem path to the input file. ".gz" and ".zst"
	// files are decompressed transparently.
	Path string `json:"path" yaml:"path"`
}

// Parser selects how to parse the raw source into a table.
type Parser struct {
	// Kind selects the parser implementation. Current value: "csv".
	Kind string `json:"kind" yaml:"kind"`

	// Options is a free-form map interpreted by the parser implementation.
	// For CSV the keys are:
	//   has_header (bool), infer_schema (bool), delimiter (string),
	//   encoding (string), null_value (string)
	Options Options `json:"options" yaml:"options"`
}

// Schema locates the types mapping document.
type Schema struct {
	// Path is the JSON document mapping field names to type names.
	Path string `json:"path" yaml:"path"`

	// Required makes a missing document fatal. By default a missing
	// document is logged and every column keeps its loaded type.
	Required bool `json:"required" yaml:"required"`
}

// Transform configures the cast and dedup stages.
type Transform struct {
	// CastMode is "strict" (default) or "lenient".
	CastMode string `json:"cast_mode" yaml:"cast_mode"`

	Dedup Dedup `json:"dedup" yaml:"dedup"`
}

// Dedup names the identifier and recency fields.
type Dedup struct {
	IDField      string `json:"id_field" yaml:"id_field"`
	RecencyField string `json:"recency_field" yaml:"recency_field"`
}

// Storage selects the sink.
type Storage struct {
	// Kind selects the storage implementation. Current value: "parquet".
	Kind string `json:"kind" yaml:"kind"`

	// Path is the dataset directory; it is replaced on every run.
	Path string `json:"path" yaml:"path"`

	// Compression is the Parquet codec: snappy (default), zstd, gzip, none.
	Compression string `json:"compression" yaml:"compression"`
}

// Engine selects the relational engine.
type Engine struct {
	// Kind is "duckdb" (default) or "memory".
	Kind string `json:"kind" yaml:"kind"`

	// Threads bounds engine parallelism; 0 lets the engine decide.
	Threads int `json:"threads" yaml:"threads"`

	// MemoryLimit caps DuckDB memory, e.g. "4GB".
	MemoryLimit string `json:"memory_limit" yaml:"memory_limit"`

	// TempDir holds engine scratch files.
	TempDir string `json:"temp_dir" yaml:"temp_dir"`
}

// RuntimeConfig holds run-level switches.
type RuntimeConfig struct {
	// Verify reads the written dataset back and checks its row count.
	Verify bool `json:"verify" yaml:"verify"`
}

// Options is a small helper to fetch typed values from arbitrary decoded
// maps. It purposefully performs only minimal type coercion and returns
// provided defaults when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. This is useful for single-character parser settings such as
// a CSV delimiter. The escape `\t` denotes a tab.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			if s == `\t` {
				return '\t'
			}
			return []rune(s)[0]
		}
	}
	return def
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null "options"
// object in JSON decodes to a non-nil, empty Options map. This simplifies call
// sites by removing the need to nil-check Options values.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
