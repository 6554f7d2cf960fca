package datadog

import (
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"dataprep/internal/metrics"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/google/go-cmp/cmp"
)

// failingClient rejects every count with errSend.
type failingClient struct {
	*statsd.NoOpClient
	counts int
}

var errSend = errors.New("write: connection refused")

func (c *failingClient) Count(string, int64, []string, float64) error {
	c.counts++
	return errSend
}

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   metrics.Labels
		want []string
	}{
		{name: "nil", in: nil, want: nil},
		{name: "empty", in: metrics.Labels{}, want: nil},
		{
			name: "sorted",
			in:   metrics.Labels{"stage": "load", "job": "users", "status": "success"},
			want: []string{"job:users", "stage:load", "status:success"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, labelsToTags(tt.in)); diff != "" {
				t.Fatalf("labelsToTags mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewBackend_RequiresAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(Config{}); err == nil {
		t.Fatal("NewBackend(Config{}) error = nil, want error")
	}
}

func TestZeroBackendIsSafe(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.RowsTotal, 1, nil)
	b.ObserveHistogram(metrics.StageDuration, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func TestBackend_ReportsFirstSendError(t *testing.T) {
	t.Parallel()

	c := &failingClient{NoOpClient: &statsd.NoOpClient{}}
	b := &Backend{client: c}
	b.IncCounter(metrics.RowsTotal, 1, nil)
	b.IncCounter(metrics.OutputBytes, 1, nil)
	b.ObserveHistogram(metrics.StageDuration, 1, nil)

	if c.counts != 2 {
		t.Fatalf("counts = %d, want 2", c.counts)
	}
	err := b.Flush()
	if !errors.Is(err, errSend) {
		t.Fatalf("Flush() error = %v, want %v", err, errSend)
	}
	if !strings.Contains(err.Error(), metrics.RowsTotal) {
		t.Fatalf("Flush() error = %v, want the first failing metric named", err)
	}
}

func TestBackend_SendsOverUDP(t *testing.T) {
	t.Parallel()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listener unavailable: %v", err)
	}
	defer conn.Close()

	b, err := NewBackend(Config{
		Addr:             conn.LocalAddr().String(),
		Namespace:        "acme.",
		GlobalTags:       []string{"env:test"},
		DisableTelemetry: true,
	})
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.IncCounter(metrics.RowsTotal, 6, metrics.Labels{"job": "users", "kind": metrics.RowsRead})
	b.ObserveHistogram(metrics.StageDuration, 0.25, metrics.Labels{"job": "users", "stage": "load", "status": "success"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var got strings.Builder
	buf := make([]byte, 64*1024)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !strings.Contains(got.String(), "dataprep_rows_total") || !strings.Contains(got.String(), "dataprep_stage_duration_seconds") {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			t.Fatalf("read packets: %v (got %q)", err, got.String())
		}
		got.Write(buf[:n])
		got.WriteByte('\n')
	}

	out := got.String()
	for _, want := range []string{
		"acme.dataprep_rows_total:6|c",
		"kind:read",
		"env:test",
		"acme.dataprep_stage_duration_seconds:0.25|h",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("payload %q missing %q", out, want)
		}
	}
}
