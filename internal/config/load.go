package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultJob          = "dataprep"
	DefaultIDField      = "id"
	DefaultRecencyField = "update_date"
)

// Load reads a pipeline file. Files ending in .yaml or .yml are YAML,
// anything else is JSON. Defaults are applied to the result.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	p, err := Decode(b, format)
	if err != nil {
		return Pipeline{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Decode parses a pipeline document in the given format ("json" or "yaml").
// Unknown fields are rejected so typos surface instead of being ignored.
func Decode(b []byte, format string) (Pipeline, error) {
	var p Pipeline
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("decode yaml pipeline: %w", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("decode json pipeline: %w", err)
		}
	default:
		return Pipeline{}, fmt.Errorf("unknown pipeline format %q", format)
	}
	p.ApplyDefaults()
	return p, nil
}

// ApplyDefaults fills empty fields with their defaults. Parser options are
// left alone; their defaults live with their readers.
func (p *Pipeline) ApplyDefaults() {
	if p.Job == "" {
		p.Job = DefaultJob
	}
	if p.Source.Kind == "" {
		p.Source.Kind = "file"
	}
	if p.Parser.Kind == "" {
		p.Parser.Kind = "csv"
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	if p.Transform.CastMode == "" {
		p.Transform.CastMode = "strict"
	}
	if p.Transform.Dedup.IDField == "" {
		p.Transform.Dedup.IDField = DefaultIDField
	}
	if p.Transform.Dedup.RecencyField == "" {
		p.Transform.Dedup.RecencyField = DefaultRecencyField
	}
	if p.Storage.Kind == "" {
		p.Storage.Kind = "parquet"
	}
	if p.Storage.Compression == "" {
		p.Storage.Compression = "snappy"
	}
	if p.Engine.Kind == "" {
		p.Engine.Kind = "duckdb"
	}
}

// Default returns a pipeline with every default applied.
func Default() Pipeline {
	var p Pipeline
	p.ApplyDefaults()
	return p
}
