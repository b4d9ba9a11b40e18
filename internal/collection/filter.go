package collection

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Filters restricts a fetch to records matching every entry. A scalar value
// means equality; a slice value means "field is in this set".
type Filters map[string]any

// Match reports whether the record satisfies every filter entry.
func (f Filters) Match(r Record) bool {
	for field, want := range f {
		got := r[field]
		switch set := want.(type) {
		case []any:
			if !containsValue(set, got) {
				return false
			}
		case []string:
			anySet := make([]any, len(set))
			for i, s := range set {
				anySet[i] = s
			}
			if !containsValue(anySet, got) {
				return false
			}
		default:
			if !valueEqual(want, got) {
				return false
			}
		}
	}
	return true
}

// Apply returns the subset of records matching the filters. A nil or empty
// filter set matches everything.
func (f Filters) Apply(records []Record) []Record {
	if len(f) == 0 {
		return records
	}
	var out []Record
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// CacheKey derives the cache identity for a table plus filter combination.
// The base (unfiltered) key is the table name itself; filtered variants are
// "<table>:<canonical-json>". json.Marshal sorts map keys, which makes the
// serialization stable across call sites.
func CacheKey(table string, filters Filters) string {
	if len(filters) == 0 {
		return table
	}
	raw, err := json.Marshal(filters)
	if err != nil {
		// Unserializable filter values still need a distinct, stable key.
		return table + ":" + fmt.Sprintf("%v", filters)
	}
	return table + ":" + string(raw)
}

// IsVariantOf reports whether cacheKey is the base key or a filtered variant
// of the given table.
func IsVariantOf(cacheKey, table string) bool {
	return cacheKey == table || strings.HasPrefix(cacheKey, table+":")
}

// valueEqual compares two scalar values, tolerating the int/float64
// mismatch introduced by JSON round-trips.
func valueEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func containsValue(set []any, v any) bool {
	for _, item := range set {
		if valueEqual(item, v) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
