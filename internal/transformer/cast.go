package transformer

import (
	"context"
	"fmt"
	"log"

	"dataprep/internal/engine"
	"dataprep/internal/schema"
)

// Cast returns t with every column named in m converted to its declared
// type. Columns absent from m keep their type; mapping keys absent from t
// are ignored. Column order, names and row count are preserved. An empty
// mapping returns t itself.
func Cast(ctx context.Context, t engine.Table, m schema.Mapping, mode schema.CastMode) (engine.Table, error) {
	cols := t.Columns()
	types := make([]schema.Type, len(cols))
	present := make(map[string]bool, len(cols))
	mapped := 0
	for i, c := range cols {
		present[c.Name] = true
		types[i] = c.Type
		typ, ok, err := m.Lookup(c.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			types[i] = typ
			mapped++
		}
	}
	for _, f := range m.Fields() {
		if !present[f] {
			log.Printf("cast: mapped field %q is not an input column; ignored", f)
		}
	}
	if mapped == 0 {
		return t, nil
	}
	out, err := t.Cast(ctx, types, mode)
	if err != nil {
		return nil, fmt.Errorf("%s mode: %w", mode, err)
	}
	return out, nil
}

// Caster is the Transformer form of Cast.
type Caster struct {
	Mapping schema.Mapping
	Mode    schema.CastMode
}

func (c Caster) Name() string { return "cast" }

func (c Caster) Apply(ctx context.Context, t engine.Table) (engine.Table, error) {
	return Cast(ctx, t, c.Mapping, c.Mode)
}
