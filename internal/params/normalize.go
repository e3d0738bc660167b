// Package params implements the parameter canonicalization, hashing, and
// similarity pipeline used for duplicate detection. All functions are pure:
// they never mutate their inputs and hold no state.
package params

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
)

// Normalize projects an arbitrary parameter tree into its canonical form.
// Two trees a human would call "the same input" (differing only in
// whitespace, text casing, decimal precision beyond two places, or array
// ordering) normalize to structurally equal trees.
//
// Rules, applied recursively, depth-first:
//   - nil values are dropped
//   - strings are trimmed and lowercased; empty after trimming is dropped
//   - numbers are rounded to 2 decimal places
//   - booleans pass through
//   - arrays are normalized element-wise, dropped elements filtered out,
//     then sorted by canonical encoding (input order carries no meaning)
//   - maps recurse key-by-key; keys whose value normalizes to empty are dropped
func Normalize(parameters map[string]any) map[string]any {
	out := make(map[string]any, len(parameters))
	for k, v := range parameters {
		nv, ok := normalizeValue(v)
		if !ok {
			continue
		}
		out[k] = nv
	}
	return out
}

// normalizeValue normalizes a single value. The second return is false when
// the value is absent from the canonical form (nil, empty string, empty
// array, empty map, or an unsupported type).
func normalizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, false
		}
		return strings.ToLower(s), true
	case bool:
		return t, true
	case []any:
		items := make([]any, 0, len(t))
		for _, elem := range t {
			ne, ok := normalizeValue(elem)
			if !ok {
				continue
			}
			items = append(items, ne)
		}
		if len(items) == 0 {
			return nil, false
		}
		sortValues(items)
		return items, true
	case map[string]any:
		m := Normalize(t)
		if len(m) == 0 {
			return nil, false
		}
		return m, true
	default:
		if f, ok := toFloat(v); ok {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, false
			}
			return roundCents(f), true
		}
		return normalizeForeign(v)
	}
}

// normalizeForeign handles values outside the generic JSON type set that
// direct callers can pass (typed slices, typed maps, structs). A round trip
// through encoding/json projects them onto the generic form; values with no
// JSON encoding are dropped, matching what Validate rejects.
func normalizeForeign(v any) (any, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, false
	}
	return normalizeValue(generic)
}

// roundCents rounds to 2 decimal places. Precision beyond that is treated as
// noise for equality purposes. Magnitudes where the intermediate *100 would
// overflow are kept as-is; they have no meaningful cents to round.
func roundCents(f float64) float64 {
	if math.Abs(f) >= math.MaxFloat64/100 {
		return f
	}
	return math.Round(f*100) / 100
}

// toFloat converts any of the numeric types that can appear in a decoded or
// hand-built parameter tree.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// sortValues orders already-normalized values by their canonical JSON
// encoding. The encoding is deterministic, so the resulting order is too.
func sortValues(items []any) {
	sort.SliceStable(items, func(i, j int) bool {
		return string(encodeValue(items[i])) < string(encodeValue(items[j]))
	})
}

// encodeValue serializes a normalized value. encoding/json emits map keys in
// sorted order at every nesting level, which gives the stable encoding
// hashing and comparison depend on. Normalized values only contain strings,
// bools, float64s, slices, and maps, so marshaling cannot fail.
func encodeValue(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("params: normalized value not serializable: " + err.Error())
	}
	return b
}
