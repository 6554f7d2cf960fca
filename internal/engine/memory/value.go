package memory

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"dataprep/internal/schema"
)

// Type tags keep values of different kinds from sharing a hash input.
const (
	tagInt byte = iota + 1
	tagFloat
	tagString
	tagBool
	tagTime
)

// hashValue hashes a non-nil value. Integers hash alike regardless of width
// so int and bigint keys can meet in a join.
func hashValue(v any) uint64 {
	var buf [9]byte
	switch x := v.(type) {
	case string:
		return xxh3.HashString(x) ^ uint64(tagString)
	case int32:
		buf[0] = tagInt
		binary.LittleEndian.PutUint64(buf[1:], uint64(int64(x)))
	case int64:
		buf[0] = tagInt
		binary.LittleEndian.PutUint64(buf[1:], uint64(x))
	case float32:
		buf[0] = tagFloat
		binary.LittleEndian.PutUint64(buf[1:], floatBits(float64(x)))
	case float64:
		buf[0] = tagFloat
		binary.LittleEndian.PutUint64(buf[1:], floatBits(x))
	case bool:
		buf[0] = tagBool
		if x {
			buf[1] = 1
		}
	case time.Time:
		buf[0] = tagTime
		binary.LittleEndian.PutUint64(buf[1:], uint64(x.UnixNano()))
	default:
		return xxh3.HashString(fmt.Sprint(v))
	}
	return xxh3.Hash(buf[:])
}

// floatBits folds -0 onto 0 so values that compare equal hash equal.
func floatBits(f float64) uint64 {
	if f == 0 {
		f = 0
	}
	return math.Float64bits(f)
}

// combine folds per-column hashes into one row hash.
func combine(hs []uint64) uint64 {
	if len(hs) == 1 {
		return hs[0]
	}
	buf := make([]byte, 8*len(hs))
	for i, h := range hs {
		binary.LittleEndian.PutUint64(buf[8*i:], h)
	}
	return xxh3.Hash(buf)
}

// compare orders two non-nil values of compatible kinds. Mixed integer
// widths compare numerically, as do mixed float widths.
func compare(a, b any) int {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case int32, int64:
		if y, ok := asInt(b); ok {
			xi, _ := asInt(x)
			return cmp.Compare(xi, y)
		}
		if y, ok := asFloat(b); ok {
			xf, _ := asFloat(x)
			return cmp.Compare(xf, y)
		}
	case float32, float64:
		if y, ok := asFloat(b); ok {
			xf, _ := asFloat(x)
			return cmp.Compare(xf, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	// Incomparable kinds order by their text form for a total order.
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// joinable reports whether columns of types a and b hash compatibly.
func joinable(a, b schema.Type) bool {
	if a == b {
		return true
	}
	isInt := func(t schema.Type) bool { return t == schema.Int || t == schema.BigInt }
	isFloat := func(t schema.Type) bool { return t == schema.Float || t == schema.Double }
	return (isInt(a) && isInt(b)) || (isFloat(a) && isFloat(b))
}
