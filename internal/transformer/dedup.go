package transformer

import (
	"context"
	"fmt"

	"dataprep/internal/engine"
)

// Default field names of the identifier and recency keys.
const (
	DefaultIDField      = "id"
	DefaultRecencyField = "update_date"
)

// Dedup keeps, for every identifier, the rows whose recency equals that
// identifier's maximum recency, ordered by the first column ascending.
//
// It computes max(recencyField) per idField as "max_<recencyField>", joins
// it back to t on both keys and projects t's columns. Rows tied on
// (identifier, max recency) are all kept. Rows with a NULL identifier or
// NULL recency never match the join and are dropped. Dedup is idempotent.
func Dedup(ctx context.Context, t engine.Table, idField, recencyField string) (engine.Table, error) {
	cols := t.Columns()
	if _, err := engine.ColumnIndex(cols, idField); err != nil {
		return nil, fmt.Errorf("identifier field: %w", err)
	}
	if _, err := engine.ColumnIndex(cols, recencyField); err != nil {
		return nil, fmt.Errorf("recency field: %w", err)
	}
	alias := "max_" + recencyField

	latest, err := t.GroupMax(ctx, idField, recencyField, alias)
	if err != nil {
		return nil, err
	}
	joined, err := t.Join(ctx, latest, []engine.JoinKey{
		{Left: idField, Right: idField},
		{Left: recencyField, Right: alias},
	})
	if err != nil {
		return nil, err
	}
	return joined.Sort(ctx, 0)
}

// Deduplicator is the Transformer form of Dedup.
type Deduplicator struct {
	IDField      string
	RecencyField string
}

func (d Deduplicator) Name() string { return "dedup" }

func (d Deduplicator) Apply(ctx context.Context, t engine.Table) (engine.Table, error) {
	id, rec := d.IDField, d.RecencyField
	if id == "" {
		id = DefaultIDField
	}
	if rec == "" {
		rec = DefaultRecencyField
	}
	return Dedup(ctx, t, id, rec)
}
