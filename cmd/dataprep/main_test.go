package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"dataprep/internal/config"
	"dataprep/internal/etl"
	"dataprep/internal/storage"
)

const usersCSV = "id,update_date,name\n1,2023-01-01,a\n1,2023-02-01,b\n2,2023-01-01,c\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func parse(t *testing.T, args ...string) (config.Pipeline, error) {
	t.Helper()
	var f flags
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd.Flags())
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v): %v", args, err)
	}
	return resolvePipeline(cmd, f)
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "load.csv", usersCSV)
	schema := writeFile(t, dir, "types_mapping.json", `{"id": "int", "update_date": "date"}`)
	out := filepath.Join(dir, "output")

	stdout, stderr, err := run(t, "--input", in, "--schema", schema, "--output", out, "--engine", "memory", "--verify", "--job", "users")
	if err != nil {
		t.Fatalf("run: %v (stderr=%q)", err, stderr)
	}
	if !strings.Contains(stdout, "users: wrote 2 rows (1 dropped) to "+out) {
		t.Fatalf("stdout = %q", stdout)
	}
	if !storage.IsComplete(out) {
		t.Fatalf("%s has no %s marker", out, storage.SuccessMarker)
	}
}

func TestRun_Validate(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "pipeline.yaml", `
job: users
source: {path: data/input/users/load.csv}
schema: {path: config/types_mapping.json}
storage: {path: data/output}
engine: {kind: memory}
`)

	stdout, _, err := run(t, "--config", cfg, "--validate")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout, "configuration is valid") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no input", args: []string{"--output", "out"}, want: "source.path"},
		{name: "no output", args: []string{"--input", "in.csv"}, want: "storage.path"},
		{name: "bad codec", args: []string{"--input", "in.csv", "--output", "out", "--compression", "lz4"}, want: "storage.compression"},
		{name: "bad engine", args: []string{"--input", "in.csv", "--output", "out", "--engine", "spark"}, want: "engine.kind"},
		{name: "bad cast mode", args: []string{"--input", "in.csv", "--output", "out", "--cast-mode", "loose"}, want: "transform.cast_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := run(t, tt.args...)
			if err == nil {
				t.Fatal("run succeeded, want error")
			}
			if !strings.Contains(stderr, "error: "+tt.want) {
				t.Fatalf("stderr = %q, want issue at %s", stderr, tt.want)
			}
		})
	}
}

func TestRun_JobError(t *testing.T) {
	orig := runJob
	defer func() { runJob = orig }()

	boom := errors.New("boom")
	called := false
	runJob = func(ctx context.Context, j *etl.Job) (etl.Summary, error) {
		called = true
		return etl.Summary{}, boom
	}

	_, _, err := run(t, "--input", "in.csv", "--output", "out", "--engine", "memory")
	if !called {
		t.Fatal("runJob was not called")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestResolvePipeline_Flags(t *testing.T) {
	t.Parallel()

	p, err := parse(t, "-i", "in.csv", "-s", "types.json", "-o", "out", "--header=false", "--infer-schema=false",
		"--delimiter", ";", "--encoding", "windows-1250", "--engine", "memory", "--cast-mode", "lenient",
		"--compression", "zstd", "--verify")
	if err != nil {
		t.Fatalf("resolvePipeline: %v", err)
	}

	want := config.Default()
	want.Source.Path = "in.csv"
	want.Schema.Path = "types.json"
	want.Storage.Path = "out"
	want.Storage.Compression = "zstd"
	want.Engine.Kind = "memory"
	want.Transform.CastMode = "lenient"
	want.Runtime.Verify = true
	want.Parser.Options = config.Options{
		"has_header":   false,
		"infer_schema": false,
		"delimiter":    ";",
		"encoding":     "windows-1250",
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("pipeline (-want +got):\n%s", diff)
	}
}

func TestResolvePipeline_ConfigThenFlags(t *testing.T) {
	t.Parallel()

	cfg := writeFile(t, t.TempDir(), "pipeline.json", `{
  "job": "users",
  "source": {"path": "from-file.csv"},
  "parser": {"options": {"delimiter": "|", "has_header": false}},
  "storage": {"path": "out-from-file", "compression": "gzip"},
  "engine": {"kind": "memory"}
}`)

	p, err := parse(t, "--config", cfg, "--output", "out-from-flag")
	if err != nil {
		t.Fatalf("resolvePipeline: %v", err)
	}
	if p.Source.Path != "from-file.csv" || p.Storage.Path != "out-from-flag" {
		t.Fatalf("paths = %q, %q", p.Source.Path, p.Storage.Path)
	}
	// Unset flags must not clobber the file's values with flag defaults.
	if p.Storage.Compression != "gzip" || p.Engine.Kind != "memory" {
		t.Fatalf("storage/engine = %+v %+v", p.Storage, p.Engine)
	}
	if p.Parser.Options.String("delimiter", ",") != "|" || p.Parser.Options.Bool("has_header", true) {
		t.Fatalf("parser options = %v", p.Parser.Options)
	}
}

func TestResolvePipeline_MissingConfig(t *testing.T) {
	t.Parallel()

	if _, err := parse(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("resolvePipeline succeeded, want error")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	t.Setenv("DATAPREP_TEST_ENV", "from-env")

	if got := firstNonEmpty("flag", "DATAPREP_TEST_ENV", "def"); got != "flag" {
		t.Fatalf("flag: got %q", got)
	}
	if got := firstNonEmpty("", "DATAPREP_TEST_ENV", "def"); got != "from-env" {
		t.Fatalf("env: got %q", got)
	}
	if got := firstNonEmpty("", "DATAPREP_TEST_UNSET", "def"); got != "def" {
		t.Fatalf("default: got %q", got)
	}
}

func TestSetupMetrics_Pushgateway(t *testing.T) {
	pushed := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushed <- r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()
	t.Setenv("PUSHGATEWAY_URL", server.URL)

	flush := setupMetrics(flags{metricsBackend: "pushgateway"}, "users")
	flush()

	select {
	case path := <-pushed:
		if !strings.Contains(path, "/job/users") {
			t.Fatalf("push path = %q", path)
		}
	default:
		t.Fatal("flush did not push to the gateway")
	}
}

func TestSetupMetrics_Disabled(t *testing.T) {
	t.Setenv("METRICS_BACKEND", "")

	for _, name := range []string{"", "none", "graphite"} {
		setupMetrics(flags{metricsBackend: name}, "users")()
	}
}
