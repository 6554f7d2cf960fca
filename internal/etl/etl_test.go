package etl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"dataprep/internal/config"
	"dataprep/internal/engine"
	"dataprep/internal/engine/memory"
	"dataprep/internal/etl"
	"dataprep/internal/schema"
	"dataprep/internal/storage"
)

const users = "id,update_date,name\n1,2023-01-01,a\n1,2023-02-01,b\n2,2023-01-01,c\n"

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

type fixture struct {
	input, schema, output string
}

func setup(t *testing.T, csv, mapping string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		input:  filepath.Join(dir, "load.csv"),
		schema: filepath.Join(dir, "types_mapping.json"),
		output: filepath.Join(dir, "out"),
	}
	if err := os.WriteFile(f.input, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	if mapping != "" {
		if err := os.WriteFile(f.schema, []byte(mapping), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

// readBack loads the written dataset with a fresh memory session.
func readBack(t *testing.T, dir string) ([]engine.Column, []engine.Row) {
	t.Helper()
	ctx := context.Background()
	s, err := memory.Open(ctx, engine.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	tbl, err := s.ReadParquet(ctx, dir)
	if err != nil {
		t.Fatalf("ReadParquet(%s): %v", dir, err)
	}
	rows, err := tbl.Rows(ctx)
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	return tbl.Columns(), rows
}

func stageNames(s etl.Summary) []string {
	var out []string
	for _, st := range s.Stages {
		out = append(out, st.Name)
	}
	return out
}

func TestRun_Users(t *testing.T) {
	t.Parallel()

	f := setup(t, users, `{"id": "int", "update_date": "date"}`)
	sum, err := etl.New(f.input, f.schema, f.output, etl.WithEngine(memory.Kind), etl.WithVerify(true), etl.WithJob("users")).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Job != "users" || sum.RowsRead != 3 || sum.RowsOutput != 2 || sum.Dropped != 1 || !sum.Verified {
		t.Fatalf("summary = %+v", sum)
	}
	if diff := cmp.Diff([]string{etl.StageLoad, etl.StageCast, etl.StageDedup, etl.StageWrite, etl.StageVerify}, stageNames(sum)); diff != "" {
		t.Fatalf("stages (-want +got):\n%s", diff)
	}
	if !storage.IsComplete(f.output) || sum.Output.Dir != f.output || sum.Output.Bytes <= 0 {
		t.Fatalf("output = %+v", sum.Output)
	}

	cols, rows := readBack(t, f.output)
	if got := engine.Describe(cols); got != "id:int, update_date:date, name:string" {
		t.Fatalf("columns = %s", got)
	}
	want := []engine.Row{
		{int32(1), day(2023, 2, 1), "b"},
		{int32(2), day(2023, 1, 1), "c"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestRun_MissingSchemaIsNoop(t *testing.T) {
	t.Parallel()

	f := setup(t, users, "")
	sum, err := etl.New(f.input, f.schema, f.output, etl.WithEngine(memory.Kind), etl.WithInferSchema(false)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.RowsOutput != 2 {
		t.Fatalf("RowsOutput = %d, want 2", sum.RowsOutput)
	}

	// Without inference or a mapping every column stays a string, and the
	// latest date still wins because ISO dates order lexically.
	cols, rows := readBack(t, f.output)
	if got := engine.Describe(cols); got != "id:string, update_date:string, name:string" {
		t.Fatalf("columns = %s", got)
	}
	want := []engine.Row{{"1", "2023-02-01", "b"}, {"2", "2023-01-01", "c"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestRun_MissingSchemaKeepsInferredTypes(t *testing.T) {
	t.Parallel()

	f := setup(t, users, "")

	ctx := context.Background()
	s, err := memory.Open(ctx, engine.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	loaded, err := s.ReadCSV(ctx, f.input, engine.CSVOptions{Header: true, InferSchema: true, Delimiter: ','})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}

	sum, err := etl.New(f.input, f.schema, f.output, etl.WithEngine(memory.Kind)).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(loaded.Columns(), sum.Columns); diff != "" {
		t.Fatalf("summary columns (-loaded +got):\n%s", diff)
	}

	cols, rows := readBack(t, f.output)
	if diff := cmp.Diff(loaded.Columns(), cols, cmpopts.IgnoreFields(engine.Column{}, "Native")); diff != "" {
		t.Fatalf("written columns (-loaded +got):\n%s", diff)
	}
	if got := engine.Describe(cols); got != "id:int, update_date:date, name:string" {
		t.Fatalf("columns = %s", got)
	}
	want := []engine.Row{{int32(1), day(2023, 2, 1), "b"}, {int32(2), day(2023, 1, 1), "c"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestRun_EmptySchemaPath(t *testing.T) {
	t.Parallel()

	f := setup(t, users, "")
	if _, err := etl.New(f.input, "", f.output, etl.WithEngine(memory.Kind)).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := etl.New(f.input, "", f.output, etl.WithEngine(memory.Kind), etl.WithSchemaRequired(true)).Run(context.Background()); !errors.Is(err, schema.ErrMappingNotFound) {
		t.Fatalf("required empty path: err = %v, want ErrMappingNotFound", err)
	}
}

func TestRun_CustomDedupFields(t *testing.T) {
	t.Parallel()

	f := setup(t, "key;ts;v\nk1;5;x\nk1;7;y\nk2;1;z\n", `{"ts": "bigint"}`)
	sum, err := etl.New(f.input, f.schema, f.output,
		etl.WithEngine(memory.Kind),
		etl.WithDelimiter(';'),
		etl.WithDedupFields("key", "ts"),
		etl.WithCompression(engine.Zstd),
	).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasSuffix(sum.Output.Part, ".zstd.parquet") {
		t.Fatalf("part = %s, want zstd extension", sum.Output.Part)
	}
	_, rows := readBack(t, f.output)
	want := []engine.Row{{"k1", int64(7), "y"}, {"k2", int64(1), "z"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestRun_LenientCast(t *testing.T) {
	t.Parallel()

	f := setup(t, "id,update_date,n\n1,2023-01-01,x\n2,2023-01-01,5\n", `{"n": "int"}`)
	if _, err := etl.New(f.input, f.schema, f.output, etl.WithEngine(memory.Kind)).Run(context.Background()); !errors.Is(err, schema.ErrConversion) {
		t.Fatalf("strict: err = %v, want ErrConversion", err)
	}
	if _, err := etl.New(f.input, f.schema, f.output, etl.WithEngine(memory.Kind), etl.WithCastMode(schema.Lenient)).Run(context.Background()); err != nil {
		t.Fatalf("lenient: %v", err)
	}
	_, rows := readBack(t, f.output)
	want := []engine.Row{{int32(1), day(2023, 1, 1), nil}, {int32(2), day(2023, 1, 1), int32(5)}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestRun_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mapping   string
		input     func(f fixture) string
		output    func(f fixture) string
		opts      []etl.Option
		wantStage string
		wantIs    error
	}{
		{
			name:      "missing input",
			input:     func(f fixture) string { return f.input + ".absent" },
			wantStage: etl.StageLoad,
		},
		{
			name:      "unknown type",
			mapping:   `{"id": "decimal(10,2)"}`,
			wantStage: etl.StageCast,
			wantIs:    schema.ErrUnknownType,
		},
		{
			name:      "malformed mapping",
			mapping:   `{"id": 1}`,
			wantStage: etl.StageCast,
		},
		{
			name:      "schema required",
			opts:      []etl.Option{etl.WithSchemaRequired(true)},
			wantStage: etl.StageCast,
			wantIs:    schema.ErrMappingNotFound,
		},
		{
			name:      "missing id column",
			opts:      []etl.Option{etl.WithDedupFields("customer_id", "")},
			wantStage: etl.StageDedup,
			wantIs:    engine.ErrColumnNotFound,
		},
		{
			name:      "unsafe destination",
			output:    func(fixture) string { return "/" },
			wantStage: etl.StageWrite,
			wantIs:    storage.ErrUnsafeDestination,
		},
		{
			name:      "output holds input",
			output:    func(f fixture) string { return filepath.Dir(f.input) },
			wantStage: etl.StageWrite,
			wantIs:    storage.ErrUnsafeDestination,
		},
		{
			name:   "unknown engine",
			opts:   []etl.Option{etl.WithEngine("spark")},
			wantIs: engine.ErrUnknownEngine,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := setup(t, users, tt.mapping)
			in, out := f.input, f.output
			if tt.input != nil {
				in = tt.input(f)
			}
			if tt.output != nil {
				out = tt.output(f)
			}
			opts := append([]etl.Option{etl.WithEngine(memory.Kind)}, tt.opts...)
			_, err := etl.New(in, f.schema, out, opts...).Run(context.Background())
			if err == nil {
				t.Fatal("Run succeeded, want error")
			}
			if tt.wantStage != "" && !strings.HasPrefix(err.Error(), tt.wantStage+": ") {
				t.Fatalf("err = %v, want stage %q", err, tt.wantStage)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Fatalf("err = %v, want errors.Is %v", err, tt.wantIs)
			}
		})
	}
}

func TestRun_FailedStageIsTimed(t *testing.T) {
	t.Parallel()

	f := setup(t, users, "")
	sum, err := etl.New(f.input, f.schema, f.output, etl.WithEngine(memory.Kind), etl.WithDedupFields("customer_id", "")).Run(context.Background())
	if !errors.Is(err, engine.ErrColumnNotFound) {
		t.Fatalf("err = %v, want ErrColumnNotFound", err)
	}
	if strings.Count(err.Error(), etl.StageDedup+":") != 1 {
		t.Fatalf("err = %v, want the stage named once", err)
	}
	if diff := cmp.Diff([]string{etl.StageLoad, etl.StageCast, etl.StageDedup}, stageNames(sum)); diff != "" {
		t.Fatalf("stages (-want +got):\n%s", diff)
	}
}

func TestRun_OutputHoldsInput(t *testing.T) {
	t.Parallel()

	f := setup(t, users, `{"id": "int"}`)
	dir := filepath.Dir(f.input)
	if _, err := etl.New(f.input, f.schema, dir, etl.WithEngine(memory.Kind)).Run(context.Background()); !errors.Is(err, storage.ErrUnsafeDestination) {
		t.Fatalf("err = %v, want ErrUnsafeDestination", err)
	}
	for _, p := range []string{f.input, f.schema} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s removed: %v", p, err)
		}
	}
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	f := setup(t, users, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := etl.New(f.input, f.schema, f.output, etl.WithEngine(memory.Kind)).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(f.output); !os.IsNotExist(err) {
		t.Fatalf("output exists after canceled run: %v", err)
	}
}

func TestFromPipeline(t *testing.T) {
	t.Parallel()

	f := setup(t, "id|update_date\n1|2023-01-01\n1|2023-01-02\n", `{"update_date": "date"}`)
	p := config.Default()
	p.Job = "pipe"
	p.Source.Path = f.input
	p.Schema.Path = f.schema
	p.Storage.Path = f.output
	p.Storage.Compression = "none"
	p.Parser.Options = config.Options{"delimiter": "|", "has_header": true}
	p.Engine.Kind = memory.Kind
	p.Runtime.Verify = true

	job, err := etl.FromPipeline(p)
	if err != nil {
		t.Fatalf("FromPipeline: %v", err)
	}
	sum, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Job != "pipe" || sum.RowsOutput != 1 || !sum.Verified {
		t.Fatalf("summary = %+v", sum)
	}
	if strings.Contains(filepath.Base(sum.Output.Part), ".none") {
		t.Fatalf("uncompressed part should carry no codec extension: %s", sum.Output.Part)
	}
}

func TestFromPipeline_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Pipeline)
	}{
		{"cast mode", func(p *config.Pipeline) { p.Transform.CastMode = "yolo" }},
		{"compression", func(p *config.Pipeline) { p.Storage.Compression = "lz4" }},
		{"parser", func(p *config.Pipeline) { p.Parser.Kind = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := config.Default()
			tt.mutate(&p)
			if _, err := etl.FromPipeline(p); err == nil {
				t.Fatal("FromPipeline succeeded, want error")
			}
		})
	}
}
