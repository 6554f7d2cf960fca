// Command dataprep loads a CSV file, casts its columns to the types declared
// in a JSON mapping, keeps the most recent row per identifier and writes the
// result as a Parquet dataset directory.
//
//	dataprep --input data/input/users/load.csv \
//	         --schema config/types_mapping.json \
//	         --output data/output/
//
// A pipeline file (--config, JSON or YAML) can replace the flags; flags that
// are set explicitly override the file.
package main

import (
	"os"

	// register every engine with the engine factory; the pipeline picks one.
	_ "dataprep/internal/engine/all"
)

func main() {
	os.Exit(execute(os.Args[1:]))
}
