package memory

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"dataprep/internal/engine"
	"dataprep/internal/schema"
)

type column struct {
	engine.Column
	values []any
}

// Table is an immutable column-major relation. Operators share unchanged
// value slices between input and output tables.
type Table struct {
	s    *Session
	n    int
	cols []column
}

var _ engine.Table = (*Table)(nil)

// Columns implements engine.Table.
func (t *Table) Columns() []engine.Column {
	out := make([]engine.Column, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Column
	}
	return out
}

// Count implements engine.Table.
func (t *Table) Count(ctx context.Context) (int64, error) {
	if err := t.s.check(); err != nil {
		return 0, err
	}
	return int64(t.n), nil
}

// Rows implements engine.Table.
func (t *Table) Rows(ctx context.Context) ([]engine.Row, error) {
	if err := t.s.check(); err != nil {
		return nil, err
	}
	rows := make([]engine.Row, t.n)
	for i := range rows {
		r := make(engine.Row, len(t.cols))
		for j, c := range t.cols {
			r[j] = c.values[i]
		}
		rows[i] = r
	}
	return rows, nil
}

func (t *Table) index(name string) (int, error) {
	for i, c := range t.cols {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", engine.ErrColumnNotFound, name)
}

// Cast implements engine.Table. Columns convert concurrently; unchanged
// columns are shared with the receiver.
func (t *Table) Cast(ctx context.Context, types []schema.Type, mode schema.CastMode) (engine.Table, error) {
	if err := t.s.check(); err != nil {
		return nil, err
	}
	if len(types) != len(t.cols) {
		return nil, fmt.Errorf("cast: %d target types for %d columns", len(types), len(t.cols))
	}
	out := &Table{s: t.s, n: t.n, cols: make([]column, len(t.cols))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.s.threads)
	for j, src := range t.cols {
		to := types[j]
		if to == src.Type {
			out.cols[j] = src
			continue
		}
		if !to.Valid() {
			return nil, fmt.Errorf("cast %q: %w %q", src.Name, schema.ErrUnknownType, to)
		}
		g.Go(func() error {
			vals := make([]any, t.n)
			for i, v := range src.values {
				if i%checkEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				cv, err := schema.Convert(v, src.Type, to)
				if err != nil {
					if mode == schema.Lenient {
						continue
					}
					return fmt.Errorf("cast %q row %d: %w", src.Name, i+1, err)
				}
				vals[i] = cv
			}
			out.cols[j] = column{Column: engine.Column{Name: src.Name, Type: to, Native: string(to)}, values: vals}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GroupMax implements engine.Table. Groups keep first-appearance order and a
// NULL key forms its own group.
func (t *Table) GroupMax(ctx context.Context, key, value, alias string) (engine.Table, error) {
	if err := t.s.check(); err != nil {
		return nil, err
	}
	ki, err := t.index(key)
	if err != nil {
		return nil, err
	}
	vi, err := t.index(value)
	if err != nil {
		return nil, err
	}
	kc, vc := t.cols[ki], t.cols[vi]

	var (
		keys  []any
		maxes []any
		nullG = -1
		index = make(map[uint64][]int)
	)
	for i := 0; i < t.n; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		k, v := kc.values[i], vc.values[i]
		g := -1
		if k == nil {
			if nullG < 0 {
				nullG = len(keys)
				keys, maxes = append(keys, nil), append(maxes, nil)
			}
			g = nullG
		} else {
			h := hashValue(k)
			for _, cand := range index[h] {
				if compare(keys[cand], k) == 0 {
					g = cand
					break
				}
			}
			if g < 0 {
				g = len(keys)
				index[h] = append(index[h], g)
				keys, maxes = append(keys, k), append(maxes, nil)
			}
		}
		if v != nil && (maxes[g] == nil || compare(v, maxes[g]) > 0) {
			maxes[g] = v
		}
	}

	return &Table{s: t.s, n: len(keys), cols: []column{
		{Column: kc.Column, values: keys},
		{Column: engine.Column{Name: alias, Type: vc.Type, Native: vc.Native}, values: maxes},
	}}, nil
}

// Join implements engine.Table as a hash join built on the right side.
func (t *Table) Join(ctx context.Context, right engine.Table, on []engine.JoinKey) (engine.Table, error) {
	if err := t.s.check(); err != nil {
		return nil, err
	}
	r, ok := right.(*Table)
	if !ok {
		return nil, fmt.Errorf("join: right side is %T, not a memory table", right)
	}
	if len(on) == 0 {
		return nil, fmt.Errorf("join: no join keys")
	}
	lk := make([]int, len(on))
	rk := make([]int, len(on))
	for i, k := range on {
		var err error
		if lk[i], err = t.index(k.Left); err != nil {
			return nil, err
		}
		if rk[i], err = r.index(k.Right); err != nil {
			return nil, err
		}
		lt, rt := t.cols[lk[i]].Type, r.cols[rk[i]].Type
		if !joinable(lt, rt) {
			return nil, fmt.Errorf("join %q = %q: incompatible types %s and %s", k.Left, k.Right, lt, rt)
		}
	}

	build := make(map[uint64][]int, r.n)
	for i := 0; i < r.n; i++ {
		if h, ok := r.hashRow(i, rk); ok {
			build[h] = append(build[h], i)
		}
	}

	var sel []int
	for i := 0; i < t.n; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		h, ok := t.hashRow(i, lk)
		if !ok {
			continue
		}
		for _, j := range build[h] {
			if t.keysEqual(i, lk, r, j, rk) {
				sel = append(sel, i)
			}
		}
	}
	return t.take(sel), nil
}

// hashRow hashes the key columns of row i. ok is false when any key is NULL.
func (t *Table) hashRow(i int, keys []int) (uint64, bool) {
	hs := make([]uint64, len(keys))
	for k, c := range keys {
		v := t.cols[c].values[i]
		if v == nil {
			return 0, false
		}
		hs[k] = hashValue(v)
	}
	return combine(hs), true
}

func (t *Table) keysEqual(i int, lk []int, r *Table, j int, rk []int) bool {
	for k := range lk {
		if compare(t.cols[lk[k]].values[i], r.cols[rk[k]].values[j]) != 0 {
			return false
		}
	}
	return true
}

// take returns the rows at sel, in sel order.
func (t *Table) take(sel []int) *Table {
	out := &Table{s: t.s, n: len(sel), cols: make([]column, len(t.cols))}
	for j, c := range t.cols {
		vals := make([]any, len(sel))
		for k, i := range sel {
			vals[k] = c.values[i]
		}
		out.cols[j] = column{Column: c.Column, values: vals}
	}
	return out
}

// Sort implements engine.Table. The sort is stable.
func (t *Table) Sort(ctx context.Context, col int) (engine.Table, error) {
	if err := t.s.check(); err != nil {
		return nil, err
	}
	if col < 0 || col >= len(t.cols) {
		return nil, fmt.Errorf("sort: %w: index %d", engine.ErrColumnNotFound, col)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vals := t.cols[col].values
	sel := make([]int, t.n)
	for i := range sel {
		sel[i] = i
	}
	sort.SliceStable(sel, func(a, b int) bool {
		va, vb := vals[sel[a]], vals[sel[b]]
		switch {
		case va == nil:
			return vb != nil
		case vb == nil:
			return false
		}
		return compare(va, vb) < 0
	})
	return t.take(sel), nil
}
