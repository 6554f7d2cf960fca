// Package schema defines the logical column type catalog shared by every
// engine, the external types mapping (field name -> type name), column type
// inference for raw CSV text and value conversion between logical types.
//
// The catalog is deliberately small and closed. Engines translate a Type into
// their own physical representation (a DuckDB SQL type, an Arrow data type)
// and never see the loosely spelled names found in mapping documents.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Type is a logical column type.
type Type string

const (
	String    Type = "string"
	Int       Type = "int"    // 32-bit signed integer
	BigInt    Type = "bigint" // 64-bit signed integer
	Float     Type = "float"  // 32-bit IEEE float
	Double    Type = "double" // 64-bit IEEE float
	Boolean   Type = "boolean"
	Date      Type = "date"
	Timestamp Type = "timestamp"
)

// ErrUnknownType is returned by ParseType for names outside the catalog.
var ErrUnknownType = errors.New("schema: unknown type")

// aliases maps lower-cased spellings accepted in mapping documents to the
// canonical Type. Spark's DataType class names are accepted as well because
// types mappings are often exported from Spark jobs.
var aliases = map[string]Type{
	"string":  String,
	"str":     String,
	"text":    String,
	"varchar": String,
	"char":    String,

	"int":      Int,
	"integer":  Int,
	"int32":    Int,
	"smallint": Int,
	"short":    Int,
	"tinyint":  Int,
	"byte":     Int,

	"bigint": BigInt,
	"long":   BigInt,
	"int64":  BigInt,

	"float":   Float,
	"real":    Float,
	"float32": Float,

	"double":  Double,
	"float64": Double,
	"numeric": Double,
	"decimal": Double,

	"boolean": Boolean,
	"bool":    Boolean,

	"date": Date,

	"timestamp":   Timestamp,
	"datetime":    Timestamp,
	"timestamptz": Timestamp,

	"stringtype":    String,
	"integertype":   Int,
	"shorttype":     Int,
	"bytetype":      Int,
	"longtype":      BigInt,
	"floattype":     Float,
	"doubletype":    Double,
	"decimaltype":   Double,
	"booleantype":   Boolean,
	"datetype":      Date,
	"timestamptype": Timestamp,
}

// ParseType resolves a loosely spelled type name into a catalog Type. Matching
// is case-insensitive and ignores surrounding whitespace and a trailing
// "()" as in Spark's "IntegerType()".
func ParseType(name string) (Type, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimSuffix(n, "()")
	if t, ok := aliases[n]; ok {
		return t, nil
	}
	// decimal(10,2) and varchar(32) style parameters are not modeled.
	if i := strings.IndexByte(n, '('); i > 0 && strings.HasSuffix(n, ")") {
		if t, ok := aliases[n[:i]]; ok {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownType, name)
}

// Valid reports whether t is part of the catalog.
func (t Type) Valid() bool {
	switch t {
	case String, Int, BigInt, Float, Double, Boolean, Date, Timestamp:
		return true
	}
	return false
}

// Temporal reports whether t holds dates or instants.
func (t Type) Temporal() bool { return t == Date || t == Timestamp }

func (t Type) String() string { return string(t) }
