package docstore

import (
	"strconv"
	"strings"
)

func splitPath(path string) []string { return strings.Split(path, ".") }

// resolve returns every value reachable at parts. Arrays met on the way are
// searched element-wise unless the next segment is an index.
func resolve(v any, parts []string) []any {
	if len(parts) == 0 {
		return []any{v}
	}
	switch t := v.(type) {
	case map[string]any:
		child, ok := t[parts[0]]
		if !ok {
			return nil
		}
		return resolve(child, parts[1:])
	case []any:
		if idx, err := strconv.Atoi(parts[0]); err == nil && idx >= 0 {
			if idx < len(t) {
				return resolve(t[idx], parts[1:])
			}
			return nil
		}
		var out []any
		for _, e := range t {
			if _, ok := e.(map[string]any); ok {
				out = append(out, resolve(e, parts)...)
			}
		}
		return out
	}
	return nil
}

// expand adds the elements of array values to vals.
func expand(vals []any) []any {
	out := make([]any, 0, len(vals))
	for _, v := range vals {
		out = append(out, v)
		if arr, ok := v.([]any); ok {
			out = append(out, arr...)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Type ranks used for ordering values of different types, lowest first.
const (
	rankNull = iota
	rankString
	rankNumber
	rankBool
	rankArray
	rankObject
)

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case string:
		return rankString
	case int64, float64, int:
		return rankNumber
	case bool:
		return rankBool
	case []any:
		return rankArray
	}
	// ObjectID is stored as an object
	return rankObject
}

// compareValues orders two values. ok is false when they are of different
// types, which operators like $gt treat as "no match".
func compareValues(a, b any) (c int, ok bool) {
	if fa, isA := toFloat(a); isA {
		fb, isB := toFloat(b)
		if !isB {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case ObjectID:
		y, isOID := b.(ObjectID)
		if !isOID {
			return 0, false
		}
		return x.Compare(y), true
	case nil:
		return 0, b == nil
	}
	return 0, false
}

// sortCompare is a total order for sorting: type rank first, then value.
func sortCompare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if c, ok := compareValues(a, b); ok {
		return c
	}
	if valuesEqual(a, b) {
		return 0
	}
	// arrays and objects: order by their JSON form
	return strings.Compare(jsonKey(a), jsonKey(b))
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case ObjectID:
		y, ok := b.(ObjectID)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !valuesEqual(v, w) {
				return false
			}
		}
		return true
	}
	return false
}
