// Package datadog sends dataprep metrics to a DogStatsD agent.
//
// Labels become "key:value" tags. Counters map to Count and stage durations
// to Histogram. Flush closes the client, which drains its buffers, so a
// Backend serves exactly one run. The first failed send is logged and
// returned by Flush; later ones are dropped.
package datadog

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"dataprep/internal/metrics"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// Config holds Datadog backend configuration.
type Config struct {
	// Addr is the DogStatsD address, e.g. "127.0.0.1:8125" or "unix:///path/to/socket".
	Addr string

	// Namespace prefixes every metric name, e.g. "acme.".
	Namespace string

	// GlobalTags are attached to every metric, e.g. "env:prod".
	GlobalTags []string

	// DisableTelemetry turns off the client's self-reporting metrics.
	DisableTelemetry bool
}

// Backend is a Datadog implementation of metrics.Backend.
type Backend struct {
	client statsd.ClientInterface

	once    sync.Once
	sendErr error
}

// NewBackend connects a statsd client for cfg. Addr is required.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: Addr is required")
	}

	var opts []statsd.Option
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}
	if cfg.DisableTelemetry {
		opts = append(opts, statsd.WithoutTelemetry())
	}

	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: create client: %w", err)
	}
	return &Backend{client: c}, nil
}

// IncCounter implements metrics.Backend. Fractional deltas are truncated.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	b.report(name, b.client.Count(name, int64(delta), labelsToTags(labels), 1))
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	b.report(name, b.client.Histogram(name, value, labelsToTags(labels), 1))
}

// Flush closes the client, sending anything still buffered. It returns the
// close error or else the first send error.
func (b *Backend) Flush() error {
	if b.client == nil {
		return nil
	}
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("datadog: close client: %w", err)
	}
	return b.sendErr
}

func (b *Backend) report(name string, err error) {
	if err == nil {
		return
	}
	b.once.Do(func() {
		b.sendErr = fmt.Errorf("datadog: send %s: %w", name, err)
		log.Printf("%v (further send errors are not logged)", b.sendErr)
	})
}

// labelsToTags renders labels as sorted "key:value" tags.
func labelsToTags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		out = append(out, k+":"+v)
	}
	sort.Strings(out)
	return out
}
