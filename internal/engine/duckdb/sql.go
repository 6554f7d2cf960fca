package duckdb

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"dataprep/internal/engine"
	"dataprep/internal/schema"
)

// quoteIdent wraps a SQL identifier in double quotes, doubling embedded
// quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteLiteral wraps a string value in single quotes, doubling embedded
// quotes.
func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// sqlType is the DuckDB type a catalog type casts to.
func sqlType(t schema.Type) (string, error) {
	switch t {
	case schema.String:
		return "VARCHAR", nil
	case schema.Int:
		return "INTEGER", nil
	case schema.BigInt:
		return "BIGINT", nil
	case schema.Float:
		return "FLOAT", nil
	case schema.Double:
		return "DOUBLE", nil
	case schema.Boolean:
		return "BOOLEAN", nil
	case schema.Date:
		return "DATE", nil
	case schema.Timestamp:
		return "TIMESTAMP", nil
	}
	return "", fmt.Errorf("%w %q", schema.ErrUnknownType, t)
}

// catalogType maps a DuckDB column type onto the catalog. Types outside
// the catalog are reported as strings.
func catalogType(native string) schema.Type {
	n := strings.ToUpper(strings.TrimSpace(native))
	switch {
	case n == "VARCHAR" || strings.HasPrefix(n, "VARCHAR("):
		return schema.String
	case n == "INTEGER" || n == "SMALLINT" || n == "TINYINT" || n == "USMALLINT" || n == "UTINYINT":
		return schema.Int
	case n == "BIGINT" || n == "UINTEGER" || n == "UBIGINT" || n == "HUGEINT":
		return schema.BigInt
	case n == "FLOAT" || n == "REAL":
		return schema.Float
	case n == "DOUBLE" || strings.HasPrefix(n, "DECIMAL"):
		return schema.Double
	case n == "BOOLEAN":
		return schema.Boolean
	case n == "DATE":
		return schema.Date
	case strings.HasPrefix(n, "TIMESTAMP"):
		return schema.Timestamp
	}
	return schema.String
}

func compressionName(c engine.Compression) (string, error) {
	switch c {
	case engine.Snappy, "":
		return "snappy", nil
	case engine.Zstd:
		return "zstd", nil
	case engine.Gzip:
		return "gzip", nil
	case engine.Uncompressed:
		return "uncompressed", nil
	}
	return "", fmt.Errorf("parquet: unknown compression %q", c)
}

// normalize maps driver values onto the Go representation shared by all
// engines.
func normalize(v any) any {
	switch x := v.(type) {
	case time.Time:
		return time.Unix(x.Unix(), int64(x.Nanosecond())).UTC()
	case int8:
		return int32(x)
	case int16:
		return int32(x)
	case uint8:
		return int32(x)
	case uint16:
		return int32(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case interface{ Float64() float64 }:
		return x.Float64()
	}
	return v
}
