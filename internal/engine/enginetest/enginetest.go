// Package enginetest holds a behavioral suite every engine.Session
// implementation must pass. Engine packages call Run from their tests.
package enginetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"dataprep/internal/engine"
	"dataprep/internal/schema"
)

// Opener returns a fresh Session; Run closes it.
type Opener func(t *testing.T) engine.Session

// Users is the canonical three-row input with one superseded record.
const Users = "id,update_date,name\n1,2023-01-01,a\n1,2023-02-01,b\n2,2023-01-01,c\n"

// WriteFile writes content under dir and returns the path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// Day returns midnight UTC of the given date.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func names(cols []engine.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func types(cols []engine.Column) []schema.Type {
	out := make([]schema.Type, len(cols))
	for i, c := range cols {
		out[i] = c.Type
	}
	return out
}

func load(t *testing.T, s engine.Session, content string, opt engine.CSVOptions) engine.Table {
	t.Helper()
	p := WriteFile(t, t.TempDir(), "in.csv", content)
	tbl, err := s.ReadCSV(context.Background(), p, opt)
	require.NoError(t, err)
	return tbl
}

func rows(t *testing.T, tbl engine.Table) []engine.Row {
	t.Helper()
	rs, err := tbl.Rows(context.Background())
	require.NoError(t, err)
	return rs
}

// latest runs the group/join/sort sequence that keeps each id's most
// recent rows.
func latest(t *testing.T, tbl engine.Table) engine.Table {
	t.Helper()
	ctx := context.Background()
	g, err := tbl.GroupMax(ctx, "id", "update_date", "max_update_date")
	require.NoError(t, err)
	j, err := tbl.Join(ctx, g, []engine.JoinKey{{Left: "id", Right: "id"}, {Left: "update_date", Right: "max_update_date"}})
	require.NoError(t, err)
	out, err := j.Sort(ctx, 0)
	require.NoError(t, err)
	return out
}

var usersTypes = []schema.Type{schema.Int, schema.Date, schema.String}

// Run executes the suite.
func Run(t *testing.T, open Opener) {
	ctx := context.Background()
	session := func(t *testing.T) engine.Session {
		s := open(t)
		t.Cleanup(func() { s.Close() })
		return s
	}

	t.Run("ReadCSV_HeaderInfer", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, Users, engine.CSVOptions{Header: true, InferSchema: true})
		cols := tbl.Columns()
		require.Equal(t, []string{"id", "update_date", "name"}, names(cols))
		require.Contains(t, []schema.Type{schema.Int, schema.BigInt}, cols[0].Type)
		require.Equal(t, schema.Date, cols[1].Type)
		require.Equal(t, schema.String, cols[2].Type)
		n, err := tbl.Count(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 3, n)
	})

	t.Run("ReadCSV_NoInfer", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, Users, engine.CSVOptions{Header: true})
		require.Equal(t, []schema.Type{schema.String, schema.String, schema.String}, types(tbl.Columns()))
		require.Equal(t, engine.Row{"1", "2023-01-01", "a"}, rows(t, tbl)[0])
	})

	t.Run("ReadCSV_NoHeader", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, "1;x\n2;y\n", engine.CSVOptions{Delimiter: ';'})
		require.Equal(t, []string{"_c0", "_c1"}, names(tbl.Columns()))
		n, err := tbl.Count(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 2, n)
	})

	t.Run("ReadCSV_Missing", func(t *testing.T) {
		s := session(t)
		_, err := s.ReadCSV(ctx, filepath.Join(t.TempDir(), "nope.csv"), engine.CSVOptions{Header: true})
		require.Error(t, err)
	})

	t.Run("Cast", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, Users, engine.CSVOptions{Header: true})
		cast, err := tbl.Cast(ctx, usersTypes, schema.Strict)
		require.NoError(t, err)
		require.Equal(t, usersTypes, types(cast.Columns()))
		require.Equal(t, []string{"id", "update_date", "name"}, names(cast.Columns()))
		want := []engine.Row{
			{int32(1), Day(2023, 1, 1), "a"},
			{int32(1), Day(2023, 2, 1), "b"},
			{int32(2), Day(2023, 1, 1), "c"},
		}
		if diff := cmp.Diff(want, rows(t, cast)); diff != "" {
			t.Fatalf("cast rows mismatch (-want +got):\n%s", diff)
		}
		// The receiver is unchanged.
		require.Equal(t, []schema.Type{schema.String, schema.String, schema.String}, types(tbl.Columns()))
	})

	t.Run("Cast_Modes", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, "id,n\n1,x\n2,3\n", engine.CSVOptions{Header: true})
		target := []schema.Type{schema.String, schema.Int}

		_, err := tbl.Cast(ctx, target, schema.Strict)
		require.Error(t, err)

		lenient, err := tbl.Cast(ctx, target, schema.Lenient)
		require.NoError(t, err)
		require.Equal(t, []engine.Row{{"1", nil}, {"2", int32(3)}}, rows(t, lenient))
	})

	t.Run("Cast_WrongArity", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, Users, engine.CSVOptions{Header: true})
		_, err := tbl.Cast(ctx, []schema.Type{schema.Int}, schema.Strict)
		require.Error(t, err)
	})

	t.Run("KeepLatest", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, Users, engine.CSVOptions{Header: true})
		cast, err := tbl.Cast(ctx, usersTypes, schema.Strict)
		require.NoError(t, err)
		got := rows(t, latest(t, cast))
		want := []engine.Row{
			{int32(1), Day(2023, 2, 1), "b"},
			{int32(2), Day(2023, 1, 1), "c"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("latest rows mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("KeepLatest_Ties", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, "id,update_date,name\n1,2023-02-01,a\n1,2023-02-01,b\n1,2023-01-01,c\n", engine.CSVOptions{Header: true})
		cast, err := tbl.Cast(ctx, usersTypes, schema.Strict)
		require.NoError(t, err)
		got := rows(t, latest(t, cast))
		require.Len(t, got, 2)
		require.ElementsMatch(t, []any{"a", "b"}, []any{got[0][2], got[1][2]})
	})

	t.Run("KeepLatest_Nulls", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, "id,update_date,name\n1,2023-01-01,a\n,2023-03-01,z\n1,,n\n", engine.CSVOptions{Header: true})
		cast, err := tbl.Cast(ctx, usersTypes, schema.Strict)
		require.NoError(t, err)
		got := rows(t, latest(t, cast))
		require.Equal(t, []engine.Row{{int32(1), Day(2023, 1, 1), "a"}}, got)
	})

	t.Run("KeepLatest_Idempotent", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, Users, engine.CSVOptions{Header: true})
		cast, err := tbl.Cast(ctx, usersTypes, schema.Strict)
		require.NoError(t, err)
		once := latest(t, cast)
		twice := latest(t, once)
		if diff := cmp.Diff(rows(t, once), rows(t, twice)); diff != "" {
			t.Fatalf("second pass changed rows (-once +twice):\n%s", diff)
		}
	})

	t.Run("GroupMax_MissingColumn", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, Users, engine.CSVOptions{Header: true})
		_, err := tbl.GroupMax(ctx, "nope", "update_date", "m")
		require.ErrorIs(t, err, engine.ErrColumnNotFound)
	})

	t.Run("Sort_NullsFirst", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, "k,v\n3,a\n,b\n1,c\n", engine.CSVOptions{Header: true, InferSchema: true})
		sorted, err := tbl.Sort(ctx, 0)
		require.NoError(t, err)
		var got []any
		for _, r := range rows(t, sorted) {
			got = append(got, r[1])
		}
		require.Equal(t, []any{"b", "c", "a"}, got)
	})

	t.Run("Parquet_RoundTrip", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, Users, engine.CSVOptions{Header: true})
		cast, err := tbl.Cast(ctx, usersTypes, schema.Strict)
		require.NoError(t, err)

		for _, c := range []engine.Compression{engine.Snappy, engine.Zstd, engine.Gzip, engine.Uncompressed} {
			dir := t.TempDir()
			p := filepath.Join(dir, "part-00000"+c.Extension()+".parquet")
			require.NoError(t, cast.WriteParquet(ctx, p, engine.WriteOptions{Compression: c}))

			back, err := s.ReadParquet(ctx, dir)
			require.NoError(t, err, "codec %s", c)
			require.Equal(t, usersTypes, types(back.Columns()), "codec %s", c)
			if diff := cmp.Diff(rows(t, cast), rows(t, back)); diff != "" {
				t.Fatalf("codec %s: round trip mismatch (-want +got):\n%s", c, diff)
			}
		}
	})

	t.Run("Parquet_RoundTrip_SubMicrosecond", func(t *testing.T) {
		s := session(t)
		tbl := load(t, s, "id,ts\n1,2023-01-01 10:00:00.123456789\n2,\n", engine.CSVOptions{Header: true})
		cast, err := tbl.Cast(ctx, []schema.Type{schema.BigInt, schema.Timestamp}, schema.Strict)
		require.NoError(t, err)

		before := rows(t, cast)
		ts, ok := before[0][1].(time.Time)
		require.True(t, ok, "ts is %T", before[0][1])
		require.Zero(t, ts.Nanosecond()%1000, "timestamp keeps sub-microsecond digits: %v", ts)

		dir := t.TempDir()
		require.NoError(t, cast.WriteParquet(ctx, filepath.Join(dir, "part-00000.parquet"), engine.WriteOptions{}))
		back, err := s.ReadParquet(ctx, dir)
		require.NoError(t, err)
		if diff := cmp.Diff(before, rows(t, back)); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Close())
		_, err := s.ReadCSV(ctx, WriteFile(t, t.TempDir(), "in.csv", Users), engine.CSVOptions{Header: true})
		require.Error(t, err)
	})
}
