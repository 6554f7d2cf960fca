// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from a dataprep run.
//
// The package is intentionally minimal and opinionated:
//
//   - It exposes a narrow interface (Backend) focused on counters and timing
//     data (histograms).
//   - It provides a global, pluggable backend that defaults to a no-op
//     implementation, so metrics are always safe to call even when no real
//     backend is configured.
//   - It mirrors the engine registry pattern used elsewhere in the project,
//     allowing the rest of the codebase to depend only on this interface while
//     keeping concrete metric systems isolated in subpackages.
//
// The primary use case is instrumentation of the pipeline stages (load, cast,
// dedup, write, verify) without coupling the driver to a specific metrics
// system such as Prometheus or Datadog.
package metrics

import "time"

// Metric names emitted by the helpers below.
const (
	StageTotal    = "dataprep_stage_total"
	StageDuration = "dataprep_stage_duration_seconds"
	RowsTotal     = "dataprep_rows_total"
	OutputBytes   = "dataprep_output_bytes_total"
)

// Row kinds used with RecordRows.
const (
	RowsRead       = "read"
	RowsWritten    = "written"
	RowsDuplicates = "duplicates_dropped"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
// It is intentionally generic so we can plug in Prometheus, Datadog, etc.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStage is a convenience for the common pattern:
// measure latency + success/failure per pipeline stage.
func RecordStage(job, stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"stage":  stage,
		"status": status,
	}

	backend.IncCounter(StageTotal, 1, lbls)
	backend.ObserveHistogram(StageDuration, d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given job and kind
// (RowsRead, RowsWritten, RowsDuplicates).
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBytes adds the size of written output for the given job.
func RecordBytes(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(OutputBytes, float64(delta), Labels{
		"job": job,
	})
}
