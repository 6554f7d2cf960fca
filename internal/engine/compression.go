package engine

import (
	"fmt"
	"strings"
)

// Compression is a Parquet page compression codec.
type Compression string

const (
	Snappy       Compression = "snappy"
	Zstd         Compression = "zstd"
	Gzip         Compression = "gzip"
	Uncompressed Compression = "none"
)

// ParseCompression resolves a codec name; the empty string means Snappy.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	case "gzip":
		return Gzip, nil
	case "none", "uncompressed":
		return Uncompressed, nil
	}
	return "", fmt.Errorf("engine: unknown parquet compression %q (want snappy, zstd, gzip or none)", s)
}

// Extension returns the infix used in part file names, e.g. ".snappy".
func (c Compression) Extension() string {
	if c == Uncompressed || c == "" {
		return ""
	}
	return "." + string(c)
}
