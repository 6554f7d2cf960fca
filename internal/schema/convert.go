package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ErrConversion marks a value that cannot be represented in the target type.
var ErrConversion = errors.New("schema: conversion failed")

// CastMode selects what happens to values that do not convert.
type CastMode string

const (
	// Strict fails the cast on the first unconvertible value.
	Strict CastMode = "strict"
	// Lenient turns unconvertible values into NULL.
	Lenient CastMode = "lenient"
)

// ParseCastMode resolves a cast mode name; the empty string means Strict.
func ParseCastMode(s string) (CastMode, error) {
	switch CastMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Strict:
		return Strict, nil
	case Lenient:
		return Lenient, nil
	}
	return "", fmt.Errorf("schema: unknown cast mode %q (want strict or lenient)", s)
}

// DateLayout and TimestampLayout are the canonical text forms used when a
// temporal value is cast to string.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05.999999"
)

// TimestampPrecision is the resolution of timestamp values. Finer digits
// are truncated when a value is parsed or converted, matching Parquet's
// TIMESTAMP(MICROS).
const TimestampPrecision = time.Microsecond

// dateLayouts are tried in order when parsing a date. ISO comes first; the
// dotted day-first form is common in Czech and German exports.
var dateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"2006/01/02",
	"02.01.2006",
	"2.1.2006",
}

// timestampLayouts are tried in order when parsing a timestamp.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
}

// ParseValue converts the raw text s into the Go representation of t:
//
//	string -> string, int -> int32, bigint -> int64, float -> float32,
//	double -> float64, boolean -> bool, date/timestamp -> time.Time (UTC)
//
// Surrounding whitespace is ignored for every type but string.
func ParseValue(s string, t Type) (any, error) {
	if t == String {
		return s, nil
	}
	st := strings.TrimSpace(s)
	switch t {
	case Int:
		i, err := strconv.ParseInt(st, 10, 32)
		if err != nil {
			return nil, convErr(s, String, t)
		}
		return int32(i), nil
	case BigInt:
		i, err := strconv.ParseInt(st, 10, 64)
		if err != nil {
			return nil, convErr(s, String, t)
		}
		return i, nil
	case Float:
		f, err := strconv.ParseFloat(st, 32)
		if err != nil {
			return nil, convErr(s, String, t)
		}
		return float32(f), nil
	case Double:
		f, err := strconv.ParseFloat(st, 64)
		if err != nil {
			return nil, convErr(s, String, t)
		}
		return f, nil
	case Boolean:
		b, ok := parseBool(st)
		if !ok {
			return nil, convErr(s, String, t)
		}
		return b, nil
	case Date:
		d, ok := parseDate(st)
		if !ok {
			return nil, convErr(s, String, t)
		}
		return d, nil
	case Timestamp:
		ts, ok := parseTimestamp(st)
		if !ok {
			return nil, convErr(s, String, t)
		}
		return ts.Truncate(TimestampPrecision), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownType, t)
}

// Convert converts v, a value of type from, into type to. nil converts to nil.
func Convert(v any, from, to Type) (any, error) {
	if v == nil || from == to {
		return v, nil
	}
	if to == String {
		return Format(v, from), nil
	}
	if from == String {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a string", ErrConversion, v)
		}
		return ParseValue(s, to)
	}

	switch x := v.(type) {
	case int32:
		return fromInt(int64(x), from, to)
	case int64:
		return fromInt(x, from, to)
	case float32:
		return fromFloat(float64(x), from, to)
	case float64:
		return fromFloat(x, from, to)
	case bool:
		var i int64
		if x {
			i = 1
		}
		if to.Temporal() {
			return nil, convErr(v, from, to)
		}
		return fromInt(i, from, to)
	case time.Time:
		return fromTime(x, from, to)
	}
	return nil, fmt.Errorf("%w: unsupported value %T", ErrConversion, v)
}

// Format renders v, a value of type t, in its canonical text form. nil
// renders as "".
func Format(v any, t Type) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if t == Date {
			return x.UTC().Format(DateLayout)
		}
		return x.UTC().Format(TimestampLayout)
	}
	return fmt.Sprint(v)
}

func fromInt(i int64, from, to Type) (any, error) {
	switch to {
	case Int:
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, convErr(i, from, to)
		}
		return int32(i), nil
	case BigInt:
		return i, nil
	case Float:
		return float32(i), nil
	case Double:
		return float64(i), nil
	case Boolean:
		return i != 0, nil
	case Timestamp:
		return time.Unix(i, 0).UTC(), nil
	}
	return nil, convErr(i, from, to)
}

func fromFloat(f float64, from, to Type) (any, error) {
	switch to {
	case Float:
		return float32(f), nil
	case Double:
		return f, nil
	case Boolean:
		return f != 0, nil
	case Int, BigInt:
		if math.IsNaN(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, convErr(f, from, to)
		}
		return fromInt(int64(f), from, to)
	case Timestamp:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, convErr(f, from, to)
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC().Truncate(TimestampPrecision), nil
	}
	return nil, convErr(f, from, to)
}

func fromTime(t time.Time, from, to Type) (any, error) {
	t = t.UTC()
	switch to {
	case Date:
		return truncateDay(t), nil
	case Timestamp:
		return t.Truncate(TimestampPrecision), nil
	}
	// Only instants have an epoch value; a date is not an instant.
	if from != Timestamp {
		return nil, convErr(t, from, to)
	}
	switch to {
	case Int, BigInt:
		return fromInt(t.Unix(), from, to)
	case Float, Double:
		return fromFloat(float64(t.UnixNano())/1e9, from, to)
	}
	return nil, convErr(t, from, to)
}

// parseBool accepts the common textual booleans (true/false, t/f, yes/no, y/n, 1/0).
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	// A timestamp string casts to its calendar day.
	if t, ok := parseTimestamp(s); ok {
		return truncateDay(t), true
	}
	return time.Time{}, false
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	// dateparse treats bare digit runs as epoch values; those are numbers here.
	if isDigits(s) {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func isDigits(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '-' && r != '+' {
			return false
		}
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func convErr(v any, from, to Type) error {
	return fmt.Errorf("%w: %q (%s) to %s", ErrConversion, Format(v, from), from, to)
}
