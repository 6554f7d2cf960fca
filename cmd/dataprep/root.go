package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dataprep/internal/config"
	"dataprep/internal/etl"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flags collects the command line. Fields mirror config.Pipeline.
type flags struct {
	configPath  string
	input       string
	schema      string
	output      string
	header      bool
	inferSchema bool
	engine      string
	delimiter   string
	encoding    string
	castMode    string
	compression string
	job         string
	verify      bool
	validate    bool
	verbose     bool

	metricsBackend string
	pushGatewayURL string
	dogstatsdAddr  string
}

// runJob executes a job. Tests replace it to observe the resolved job.
var runJob = func(ctx context.Context, j *etl.Job) (etl.Summary, error) {
	return j.Run(ctx)
}

// execute runs the CLI and returns the process exit status.
func execute(args []string) int {
	cmd := newRootCmd(os.Stdout, os.Stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "dataprep",
		Short:         "Cast, deduplicate and write a CSV file as Parquet",
		Long:          "dataprep loads a CSV file, casts its columns to the types of a JSON mapping, keeps the latest row per identifier and writes a Parquet dataset.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := resolvePipeline(cmd, f)
			if err != nil {
				return err
			}
			if f.verbose {
				log.Printf("pipeline: job=%s source=%s schema=%s storage=%s engine=%s",
					p.Job, p.Source.Path, p.Schema.Path, p.Storage.Path, p.Engine.Kind)
			}

			issues := config.ValidatePipeline(p)
			for _, iss := range issues {
				fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if config.HasErrors(issues) {
				return fmt.Errorf("configuration is invalid")
			}
			if f.validate {
				fmt.Fprintln(stdout, "configuration is valid")
				return nil
			}

			job, err := etl.FromPipeline(p)
			if err != nil {
				return err
			}

			flush := setupMetrics(f, p.Job)
			defer flush()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sum, err := runJob(ctx, job)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s: wrote %s rows (%s dropped) to %s [%s] in %s\n",
				sum.Job,
				humanize.Comma(sum.RowsOutput),
				humanize.Comma(sum.Dropped),
				sum.Output.Dir,
				humanize.Bytes(uint64(sum.Output.Bytes)),
				sum.Elapsed.Round(time.Millisecond),
			)
			return nil
		},
	}

	f.register(cmd.Flags())
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd
}

// register binds the command line flags to f.
func (f *flags) register(fl *pflag.FlagSet) {
	fl.StringVarP(&f.configPath, "config", "c", "", "pipeline file (JSON or YAML)")
	fl.StringVarP(&f.input, "input", "i", "", "input CSV file")
	fl.StringVarP(&f.schema, "schema", "s", "", "types mapping JSON file")
	fl.StringVarP(&f.output, "output", "o", "", "output Parquet dataset directory (overwritten)")
	fl.BoolVar(&f.header, "header", true, "first line holds column names")
	fl.BoolVar(&f.inferSchema, "infer-schema", true, "infer column types from the data")
	fl.StringVar(&f.engine, "engine", "duckdb", "engine: duckdb or memory")
	fl.StringVar(&f.delimiter, "delimiter", ",", `field delimiter (use \t for tab)`)
	fl.StringVar(&f.encoding, "encoding", "", "input charset, e.g. windows-1250 (default utf-8)")
	fl.StringVar(&f.castMode, "cast-mode", "strict", "strict fails on unconvertible values, lenient turns them into NULL")
	fl.StringVar(&f.compression, "compression", "snappy", "Parquet codec: snappy, zstd, gzip or none")
	fl.StringVar(&f.job, "job", "", "job name for logs and metrics")
	fl.BoolVar(&f.verify, "verify", false, "read the dataset back and check its row count")
	fl.BoolVar(&f.validate, "validate", false, "validate the configuration and exit")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "enable verbose logs")
	fl.StringVar(&f.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway or datadog (env METRICS_BACKEND)")
	fl.StringVar(&f.pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	fl.StringVar(&f.dogstatsdAddr, "dogstatsd-addr", "", "DogStatsD address (env DD_DOGSTATSD_ADDR)")

}

// resolvePipeline starts from --config (or the defaults) and applies every
// flag the user set. Without --config the flag defaults apply as well.
func resolvePipeline(cmd *cobra.Command, f flags) (config.Pipeline, error) {
	p := config.Default()
	fromFile := f.configPath != ""
	if fromFile {
		var err error
		if p, err = config.Load(f.configPath); err != nil {
			return config.Pipeline{}, err
		}
	}

	set := func(name string) bool { return !fromFile || cmd.Flags().Changed(name) }
	opts := p.Parser.Options

	if set("input") && f.input != "" {
		p.Source.Path = f.input
	}
	if set("schema") && f.schema != "" {
		p.Schema.Path = f.schema
	}
	if set("output") && f.output != "" {
		p.Storage.Path = f.output
	}
	if set("header") {
		opts["has_header"] = f.header
	}
	if set("infer-schema") {
		opts["infer_schema"] = f.inferSchema
	}
	if set("delimiter") {
		opts["delimiter"] = f.delimiter
	}
	if set("encoding") && f.encoding != "" {
		opts["encoding"] = f.encoding
	}
	if set("engine") {
		p.Engine.Kind = f.engine
	}
	if set("cast-mode") {
		p.Transform.CastMode = f.castMode
	}
	if set("compression") {
		p.Storage.Compression = f.compression
	}
	if f.job != "" {
		p.Job = f.job
	}
	if cmd.Flags().Changed("verify") {
		p.Runtime.Verify = f.verify
	}
	return p, nil
}
