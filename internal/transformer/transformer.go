// Package transformer holds the table-level steps between loading and
// writing: casting columns to their declared types and keeping each
// identifier's most recent rows.
package transformer

import (
	"context"
	"fmt"

	"dataprep/internal/engine"
)

// Transformer is one step of the pipeline. Apply never mutates its input.
type Transformer interface {
	Name() string
	Apply(ctx context.Context, t engine.Table) (engine.Table, error)
}

// Chain is an ordered list of transformers.
type Chain []Transformer

// Apply runs every step in order, feeding each the previous result. The
// error names the failing step.
func (c Chain) Apply(ctx context.Context, in engine.Table) (engine.Table, error) {
	out := in
	for _, t := range c {
		var err error
		if out, err = t.Apply(ctx, out); err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name(), err)
		}
	}
	return out, nil
}
