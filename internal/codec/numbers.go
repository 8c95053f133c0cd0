package codec

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Number converts a JSON number literal to the narrowest exact Go value:
// int64, then uint64, then float64 for literals with a fraction or exponent.
// Integers beyond uint64 stay json.Number so no digit is lost.
func Number(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u
		}
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}

// NormalizeNumbers replaces every json.Number in v through nested maps and
// slices. Maps and slices are rewritten in place; the result is v with its
// numbers converted.
func NormalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		return Number(x)
	case map[string]any:
		for k, val := range x {
			x[k] = NormalizeNumbers(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = NormalizeNumbers(val)
		}
		return x
	default:
		return v
	}
}

// normalizeInto converts the numbers of a decoded generic destination.
func normalizeInto(dst any) {
	switch d := dst.(type) {
	case *map[string]any:
		NormalizeNumbers(*d)
	case *[]any:
		NormalizeNumbers(*d)
	case *any:
		*d = NormalizeNumbers(*d)
	}
}
