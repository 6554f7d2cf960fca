package duckdb

import (
	"context"
	"fmt"
	"strings"

	"dataprep/internal/engine"
	"dataprep/internal/schema"
)

// Table is a materialized DuckDB table owned by a Session.
type Table struct {
	s    *Session
	name string
	cols []engine.Column
}

var _ engine.Table = (*Table)(nil)

// Columns implements engine.Table.
func (t *Table) Columns() []engine.Column {
	return append([]engine.Column(nil), t.cols...)
}

func (t *Table) ref() string { return quoteIdent(t.name) }

// Count implements engine.Table.
func (t *Table) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := t.s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+t.ref()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.name, err)
	}
	return n, nil
}

// Rows implements engine.Table.
func (t *Table) Rows(ctx context.Context) ([]engine.Row, error) {
	rows, err := t.s.db.QueryContext(ctx, "SELECT * FROM "+t.ref())
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []engine.Row
	for rows.Next() {
		r := make(engine.Row, len(t.cols))
		ptrs := make([]any, len(r))
		for i := range r {
			ptrs[i] = &r[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		for i, v := range r {
			r[i] = normalize(v)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.name, err)
	}
	return out, nil
}

// Cast implements engine.Table with CAST, or TRY_CAST in lenient mode.
func (t *Table) Cast(ctx context.Context, types []schema.Type, mode schema.CastMode) (engine.Table, error) {
	if len(types) != len(t.cols) {
		return nil, fmt.Errorf("cast: %d target types for %d columns", len(types), len(t.cols))
	}
	fn := "CAST"
	if mode == schema.Lenient {
		fn = "TRY_CAST"
	}
	exprs := make([]string, len(t.cols))
	for i, c := range t.cols {
		st, err := sqlType(types[i])
		if err != nil {
			return nil, fmt.Errorf("cast %q: %w", c.Name, err)
		}
		id := quoteIdent(c.Name)
		if strings.EqualFold(st, c.Native) {
			exprs[i] = id
			continue
		}
		exprs[i] = fmt.Sprintf("%s(%s AS %s) AS %s", fn, id, st, id)
	}
	out, err := t.s.create(ctx, "SELECT "+strings.Join(exprs, ", ")+" FROM "+t.ref())
	if err != nil {
		if strings.Contains(err.Error(), "Conversion Error") {
			return nil, fmt.Errorf("cast: %w: %v", schema.ErrConversion, err)
		}
		return nil, fmt.Errorf("cast: %w", err)
	}
	return out, nil
}

// GroupMax implements engine.Table.
func (t *Table) GroupMax(ctx context.Context, key, value, alias string) (engine.Table, error) {
	if _, err := engine.ColumnIndex(t.cols, key); err != nil {
		return nil, err
	}
	if _, err := engine.ColumnIndex(t.cols, value); err != nil {
		return nil, err
	}
	k := quoteIdent(key)
	q := fmt.Sprintf("SELECT %s, max(%s) AS %s FROM %s GROUP BY %s", k, quoteIdent(value), quoteIdent(alias), t.ref(), k)
	out, err := t.s.create(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("group by %s: %w", key, err)
	}
	return out, nil
}

// Join implements engine.Table.
func (t *Table) Join(ctx context.Context, right engine.Table, on []engine.JoinKey) (engine.Table, error) {
	r, ok := right.(*Table)
	if !ok || r.s != t.s {
		return nil, fmt.Errorf("join: right side is not a table of this session")
	}
	if len(on) == 0 {
		return nil, fmt.Errorf("join: no join keys")
	}
	conds := make([]string, len(on))
	for i, k := range on {
		if _, err := engine.ColumnIndex(t.cols, k.Left); err != nil {
			return nil, err
		}
		if _, err := engine.ColumnIndex(r.cols, k.Right); err != nil {
			return nil, err
		}
		conds[i] = "l." + quoteIdent(k.Left) + " = r." + quoteIdent(k.Right)
	}
	q := fmt.Sprintf("SELECT l.* FROM %s AS l JOIN %s AS r ON %s", t.ref(), r.ref(), strings.Join(conds, " AND "))
	out, err := t.s.create(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	return out, nil
}

// Sort implements engine.Table.
func (t *Table) Sort(ctx context.Context, col int) (engine.Table, error) {
	if col < 0 || col >= len(t.cols) {
		return nil, fmt.Errorf("sort: %w: index %d", engine.ErrColumnNotFound, col)
	}
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY %s ASC NULLS FIRST", t.ref(), quoteIdent(t.cols[col].Name))
	out, err := t.s.create(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sort: %w", err)
	}
	return out, nil
}

// WriteParquet implements engine.Table with COPY ... TO.
func (t *Table) WriteParquet(ctx context.Context, path string, opt engine.WriteOptions) error {
	codec, err := compressionName(opt.Compression)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (FORMAT parquet, COMPRESSION %s)", t.ref(), quoteLiteral(path), quoteLiteral(codec))
	if _, err := t.s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
