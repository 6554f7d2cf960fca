// Package all wires all built-in engines into the engine registry.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete engine, which register
// their factories with the engine package. Importing it makes the following
// kinds available to engine.Open:
//
//   - "duckdb" (dataprep/internal/engine/duckdb), the default
//   - "memory" (dataprep/internal/engine/memory)
//
// Typical usage (in cmd/dataprep or a similar wiring layer):
//
//	import (
//	    _ "dataprep/internal/engine/all" // enable all built-in engines
//
//	    "dataprep/internal/engine"
//	)
//
//	sess, err := engine.Open(ctx, engine.Config{Kind: "memory"})
//	if err != nil {
//	    // handle error
//	}
//	defer sess.Close()
//
// A cgo-free binary can import dataprep/internal/engine/memory alone
// instead of this package.
package all

import (
	_ "dataprep/internal/engine/duckdb"
	_ "dataprep/internal/engine/memory"
)
