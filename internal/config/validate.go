// Package config provides configuration models and helpers for dataprep
// pipelines.
//
// This file adds a lightweight linter/validator for Pipeline values. It
// performs static checks over a decoded Pipeline and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"

	"dataprep/internal/datasource/file"
	"dataprep/internal/engine"
	"dataprep/internal/schema"
	"dataprep/internal/storage"

	"golang.org/x/text/encoding/htmlindex"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "parser.options.delimiter"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is a SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// knownEngines are the engine kinds shipped with dataprep.
var knownEngines = map[string]struct{}{
	"duckdb": {},
	"memory": {},
}

// ValidatePipeline performs static validation / linting of a Pipeline.
//
// It does not mutate the pipeline. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not. Defaults are
// expected to have been applied (Load and Decode do so).
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateSchema(p.Schema)...)
	issues = append(issues, validateTransform(p.Transform)...)
	issues = append(issues, validateStorage(p.Storage, p.Source)...)
	issues = append(issues, validateEngine(p.Engine)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	if s.Kind != "file" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unsupported source kind %q; only \"file\" is available", s.Kind),
		})
	}
	if strings.TrimSpace(s.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.path",
			Message:  "file source requires a non-empty path",
		})
	}
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue

	if p.Kind != "csv" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q; only \"csv\" is available", p.Kind),
		})
		return issues
	}

	if d := p.Options.String("delimiter", ","); d != `\t` && len([]rune(d)) != 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.delimiter",
			Message:  fmt.Sprintf("delimiter %q must be a single character", d),
		})
	}
	if enc := p.Options.String("encoding", ""); !file.IsUTF8(enc) {
		if _, err := htmlindex.Get(enc); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "parser.options.encoding",
				Message:  fmt.Sprintf("unknown encoding %q", enc),
			})
		}
	}
	if !p.Options.Bool("has_header", true) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "parser.options.has_header",
			Message:  "without a header columns are named _c0, _c1, ...; the types mapping and dedup fields must use those names",
		})
	}
	return issues
}

func validateSchema(s Schema) []Issue {
	if strings.TrimSpace(s.Path) != "" {
		return nil
	}
	sev := SeverityWarning
	if s.Required {
		sev = SeverityError
	}
	return []Issue{{
		Severity: sev,
		Path:     "schema.path",
		Message:  "no types mapping configured; columns keep their loaded types",
	}}
}

func validateTransform(t Transform) []Issue {
	var issues []Issue

	if _, err := schema.ParseCastMode(t.CastMode); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "transform.cast_mode",
			Message:  err.Error(),
		})
	}
	if strings.TrimSpace(t.Dedup.IDField) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "transform.dedup.id_field",
			Message:  "id_field must not be empty",
		})
	}
	if strings.TrimSpace(t.Dedup.RecencyField) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "transform.dedup.recency_field",
			Message:  "recency_field must not be empty",
		})
	}
	if t.Dedup.IDField != "" && t.Dedup.IDField == t.Dedup.RecencyField {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "transform.dedup",
			Message:  "id_field and recency_field are the same column; dedup will only collapse exact duplicates",
		})
	}
	return issues
}

func validateStorage(s Storage, src Source) []Issue {
	var issues []Issue

	if s.Kind != "parquet" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unsupported storage kind %q; only \"parquet\" is available", s.Kind),
		})
	}
	if strings.TrimSpace(s.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.path",
			Message:  "storage.path must not be empty",
		})
	} else if src.Path != "" && storage.Contains(s.Path, src.Path) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.path",
			Message:  "storage.path is or contains source.path; the input would be deleted by the overwrite",
		})
	}
	if _, err := engine.ParseCompression(s.Compression); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.compression",
			Message:  err.Error(),
		})
	}
	return issues
}

func validateEngine(e Engine) []Issue {
	var issues []Issue

	if _, ok := knownEngines[strings.ToLower(e.Kind)]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "engine.kind",
			Message:  fmt.Sprintf("unknown engine kind %q; want duckdb or memory", e.Kind),
		})
	}
	if e.Threads < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "engine.threads",
			Message:  "threads must not be negative",
		})
	}
	if e.MemoryLimit != "" && strings.EqualFold(e.Kind, "memory") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "engine.memory_limit",
			Message:  "memory_limit is ignored by the memory engine",
		})
	}
	return issues
}
