package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dataprep/internal/engine"
	"dataprep/internal/engine/enginetest"
	"dataprep/internal/schema"
)

func TestConformance(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) engine.Session {
		s, err := Open(context.Background(), engine.Config{Threads: 2, MemoryLimit: "512MB"})
		require.NoError(t, err)
		return s
	})
}

func TestRegistered(t *testing.T) {
	s, err := engine.Open(context.Background(), engine.Config{})
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, Kind, s.Kind())
}

func TestReadCSV_Windows1250(t *testing.T) {
	s, err := Open(context.Background(), engine.Config{TempDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	p := enginetest.WriteFile(t, t.TempDir(), "cz.csv", "id,name\n1,\x8a\xe1rka\n")
	tbl, err := s.ReadCSV(context.Background(), p, engine.CSVOptions{Header: true, InferSchema: true, Encoding: "windows-1250"})
	require.NoError(t, err)
	rows, err := tbl.Rows(context.Background())
	require.NoError(t, err)
	require.Equal(t, []engine.Row{{int64(1), "Šárka"}}, rows)
}

func TestReadCSV_DecodesOnlyForeignCharsets(t *testing.T) {
	s, err := Open(context.Background(), engine.Config{TempDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()

	missing := filepath.Join(t.TempDir(), "absent.csv")
	for enc, step := range map[string]string{"": "read ", "UTF-8": "read ", "utf8": "read ", "windows-1250": "transcode "} {
		_, err := s.ReadCSV(context.Background(), missing, engine.CSVOptions{Header: true, Encoding: enc})
		require.ErrorIs(t, err, os.ErrNotExist, "encoding %q", enc)
		require.True(t, strings.HasPrefix(err.Error(), step), "encoding %q: %v", enc, err)
	}
}

func TestCast_ConversionError(t *testing.T) {
	s, err := Open(context.Background(), engine.Config{})
	require.NoError(t, err)
	defer s.Close()

	p := enginetest.WriteFile(t, t.TempDir(), "in.csv", "n\nx\n")
	tbl, err := s.ReadCSV(context.Background(), p, engine.CSVOptions{Header: true})
	require.NoError(t, err)
	_, err = tbl.Cast(context.Background(), []schema.Type{schema.Int}, schema.Strict)
	require.ErrorIs(t, err, schema.ErrConversion)
}

func TestCatalogType(t *testing.T) {
	t.Parallel()

	cases := map[string]schema.Type{
		"VARCHAR":                  schema.String,
		"INTEGER":                  schema.Int,
		"SMALLINT":                 schema.Int,
		"BIGINT":                   schema.BigInt,
		"HUGEINT":                  schema.BigInt,
		"FLOAT":                    schema.Float,
		"DOUBLE":                   schema.Double,
		"DECIMAL(18,3)":            schema.Double,
		"BOOLEAN":                  schema.Boolean,
		"DATE":                     schema.Date,
		"TIMESTAMP":                schema.Timestamp,
		"TIMESTAMP WITH TIME ZONE": schema.Timestamp,
		"INTERVAL":                 schema.String,
	}
	for in, want := range cases {
		if got := catalogType(in); got != want {
			t.Fatalf("catalogType(%q) = %s; want %s", in, got, want)
		}
	}
}

func TestQuoting(t *testing.T) {
	t.Parallel()

	if got := quoteIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("quoteIdent = %s", got)
	}
	if got := quoteLiteral(`it's`); got != `'it''s'` {
		t.Fatalf("quoteLiteral = %s", got)
	}
}
