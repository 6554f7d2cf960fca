package schema

import (
	"strconv"
	"strings"
	"time"
)

// Inference narrows the type of one column from its raw text values. Feed
// every non-null value to Observe and read the result with Type.
//
// The heuristic requires all non-empty values to satisfy a type and prefers
// the narrowest match in the order
//
//	int -> bigint -> double -> boolean -> date -> timestamp -> string
//
// A column that only ever held empty values is a string column. Dates mixed
// with timestamps widen to timestamp.
type Inference struct {
	seen                                                     bool
	notInt, notBigInt, notDouble, notBool, notDate, notStamp bool
}

// Observe records one raw value. Empty (after trimming) values are skipped.
func (in *Inference) Observe(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	in.seen = true

	if !in.notBigInt {
		if i, err := strconv.ParseInt(s, 10, 64); err != nil {
			in.notBigInt, in.notInt = true, true
		} else if int64(int32(i)) != i {
			in.notInt = true
		}
	}
	if !in.notDouble {
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			in.notDouble = true
		}
	}
	if !in.notBool {
		if _, ok := parseBool(s); !ok {
			in.notBool = true
		}
	}
	if !in.notDate {
		if _, ok := parseDateOnly(s); !ok {
			in.notDate = true
		}
	}
	if !in.notStamp {
		if _, ok := parseTimestamp(s); !ok {
			in.notStamp = true
		}
	}
}

// Type returns the narrowest type consistent with every observed value.
func (in *Inference) Type() Type {
	switch {
	case !in.seen:
		return String
	case !in.notInt:
		return Int
	case !in.notBigInt:
		return BigInt
	case !in.notDouble:
		return Double
	case !in.notBool:
		return Boolean
	case !in.notDate:
		return Date
	case !in.notStamp:
		return Timestamp
	}
	return String
}

// InferType is a convenience wrapper over Inference for a complete column.
func InferType(values []string) Type {
	var in Inference
	for _, v := range values {
		in.Observe(v)
	}
	return in.Type()
}

// parseDateOnly accepts only the pure date layouts; a value with a time part
// is not a date for inference purposes even though it casts to one.
func parseDateOnly(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
