// Package prompush pushes dataprep metrics to a Prometheus Pushgateway.
//
// A batch job exits before any scraper would see it, so the collected
// registry is pushed once at the end of the run instead of being served over
// HTTP. The job label of every series comes from the Pushgateway grouping
// key; only stage, status and kind remain as metric labels.
package prompush

import (
	"fmt"

	"dataprep/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultJob is the grouping key used when NewBackend receives no job name.
const DefaultJob = "dataprep"

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stageCounter  *prometheus.CounterVec // dataprep_stage_total{stage,status}
	stageDuration *prometheus.SummaryVec // dataprep_stage_duration_seconds{stage,status}
	rowCounter    *prometheus.CounterVec // dataprep_rows_total{kind}
	bytesCounter  prometheus.Counter     // dataprep_output_bytes_total
}

// NewBackend builds a backend that pushes to gatewayURL under jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = DefaultJob
	}

	reg := prometheus.NewRegistry()

	stageCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.StageTotal,
			Help: "Pipeline stage executions by stage and status.",
		},
		[]string{"stage", "status"},
	)
	stageDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.StageDuration,
			Help:       "Pipeline stage wall time in seconds by stage and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"stage", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows by kind (read, written, duplicates_dropped).",
		},
		[]string{"kind"},
	)
	bytesCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metrics.OutputBytes,
			Help: "Bytes of Parquet written by the run.",
		},
	)

	for name, c := range map[string]prometheus.Collector{
		"stage counter":  stageCounter,
		"stage summary":  stageDuration,
		"row counter":    rowCounter,
		"output counter": bytesCounter,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		stageCounter:  stageCounter,
		stageDuration: stageDuration,
		rowCounter:    rowCounter,
		bytesCounter:  bytesCounter,
	}, nil
}

// IncCounter implements metrics.Backend. Unknown names are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StageTotal:
		if b.stageCounter != nil {
			b.stageCounter.WithLabelValues(labels["stage"], labels["status"]).Add(delta)
		}
	case metrics.RowsTotal:
		if b.rowCounter != nil {
			b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	case metrics.OutputBytes:
		if b.bytesCounter != nil {
			b.bytesCounter.Add(delta)
		}
	}
}

// ObserveHistogram implements metrics.Backend. Only stage durations are kept.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StageDuration || b.stageDuration == nil {
		return
	}
	b.stageDuration.WithLabelValues(labels["stage"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the Pushgateway, replacing the job's group.
func (b *Backend) Flush() error {
	if err := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prompush: push to %s: %w", b.gatewayURL, err)
	}
	return nil
}
