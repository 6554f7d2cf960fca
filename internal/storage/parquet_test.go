package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"dataprep/internal/engine"
	"dataprep/internal/engine/memory"
)

func loadUsers(t *testing.T) (engine.Session, engine.Table) {
	t.Helper()
	s, err := memory.Open(context.Background(), engine.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	p := filepath.Join(t.TempDir(), "users.csv")
	if err := os.WriteFile(p, []byte("id,update_date,name\n1,2023-01-01,a\n2,2023-01-01,c\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl, err := s.ReadCSV(context.Background(), p, engine.CSVOptions{Header: true, InferSchema: true})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	return s, tbl
}

var partRe = regexp.MustCompile(`^part-00000-[0-9a-f-]{36}(\.(snappy|zstd|gzip))?\.parquet$`)

func TestWriteParquet_Layout(t *testing.T) {
	t.Parallel()

	s, tbl := loadUsers(t)
	for _, c := range []engine.Compression{"", engine.Zstd, engine.Uncompressed} {
		dir := filepath.Join(t.TempDir(), "out")
		res, err := WriteParquet(context.Background(), tbl, dir, Options{Compression: c})
		if err != nil {
			t.Fatalf("%q: WriteParquet: %v", c, err)
		}
		ents, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, e := range ents {
			names = append(names, e.Name())
		}
		if len(names) != 2 || names[0] != SuccessMarker || !partRe.MatchString(names[1]) {
			t.Fatalf("%q: dataset files = %v", c, names)
		}
		if c == "" && !strings.Contains(names[1], ".snappy.") {
			t.Fatalf("default codec must be snappy: %s", names[1])
		}
		if res.Bytes <= 0 || filepath.Base(res.Part) != names[1] || !IsComplete(dir) {
			t.Fatalf("%q: result = %+v", c, res)
		}

		back, err := s.ReadParquet(context.Background(), dir)
		if err != nil {
			t.Fatalf("%q: ReadParquet: %v", c, err)
		}
		if n, _ := back.Count(context.Background()); n != 2 {
			t.Fatalf("%q: read back %d rows; want 2", c, n)
		}
	}
}

func TestWriteParquet_Overwrites(t *testing.T) {
	t.Parallel()

	_, tbl := loadUsers(t)
	dir := filepath.Join(t.TempDir(), "out")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "part-00000-stale.parquet")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := WriteParquet(context.Background(), tbl, dir, Options{})
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	second, err := WriteParquet(context.Background(), tbl, dir, Options{})
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	for _, p := range []string{stale, first.Part} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s survived the overwrite", p)
		}
	}
	if _, err := os.Stat(second.Part); err != nil {
		t.Fatalf("second part missing: %v", err)
	}
}

func TestWriteParquet_Errors(t *testing.T) {
	t.Parallel()

	_, tbl := loadUsers(t)

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteParquet(context.Background(), tbl, filepath.Join(blocker, "out"), Options{}); err == nil {
		t.Fatalf("expected error writing below a regular file")
	}

	for _, dir := range []string{"", "/", ".", ".."} {
		_, err := WriteParquet(context.Background(), tbl, dir, Options{})
		if !errors.Is(err, ErrUnsafeDestination) {
			t.Fatalf("dir %q: err = %v; want ErrUnsafeDestination", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WriteParquet(ctx, tbl, filepath.Join(t.TempDir(), "out"), Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
}

func TestWriteParquet_ProtectedPaths(t *testing.T) {
	t.Parallel()

	_, tbl := loadUsers(t)

	root := t.TempDir()
	input := filepath.Join(root, "in", "users.csv")
	if err := os.MkdirAll(filepath.Dir(input), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(input, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, dir := range []string{input, filepath.Dir(input), root} {
		_, err := WriteParquet(context.Background(), tbl, dir, Options{Protect: []string{"", input}})
		if !errors.Is(err, ErrUnsafeDestination) {
			t.Fatalf("dir %q: err = %v; want ErrUnsafeDestination", dir, err)
		}
	}
	if _, err := os.Stat(input); err != nil {
		t.Fatalf("protected input removed: %v", err)
	}

	sibling := filepath.Join(root, "out")
	if _, err := WriteParquet(context.Background(), tbl, sibling, Options{Protect: []string{input}}); err != nil {
		t.Fatalf("sibling destination: %v", err)
	}
}

func TestContains(t *testing.T) {
	t.Parallel()

	cases := []struct {
		dir, path string
		want      bool
	}{
		{"/data", "/data", true},
		{"/data", "/data/in/users.csv", true},
		{"/data/", "/data/x", true},
		{"/data/out", "/data/in.csv", false},
		{"/data", "/database/x", false},
		{"/data/out", "/data", false},
		{".", "input.csv", true},
		{"out", "input.csv", false},
		{"out", "out/../input.csv", false},
	}
	for _, c := range cases {
		if got := Contains(c.dir, c.path); got != c.want {
			t.Fatalf("Contains(%q, %q) = %v; want %v", c.dir, c.path, got, c.want)
		}
	}
}
