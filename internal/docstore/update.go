package docstore

import (
	"math"
	"sort"
	"strconv"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

// lookupPath returns the single value at parts; numeric segments index
// arrays.
func lookupPath(v any, parts []string) (any, bool) {
	for _, p := range parts {
		switch t := v.(type) {
		case map[string]any:
			child, ok := t[p]
			if !ok {
				return nil, false
			}
			v = child
		case []any:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, false
			}
			v = t[idx]
		default:
			return nil, false
		}
	}
	return v, true
}

// setPath creates intermediate documents as needed.
func setPath(doc map[string]any, parts []string, val any) error {
	var cur any = doc
	for i, p := range parts {
		last := i == len(parts)-1
		switch t := cur.(type) {
		case map[string]any:
			if last {
				t[p] = val
				return nil
			}
			next, ok := t[p]
			if !ok || next == nil {
				next = map[string]any{}
				t[p] = next
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(t) {
				return common.InvalidParameter("cannot set %s: bad array index", p)
			}
			if last {
				t[idx] = val
				return nil
			}
			cur = t[idx]
		default:
			return common.InvalidParameter("cannot create field %s in a scalar", p)
		}
	}
	return nil
}

func unsetPath(doc map[string]any, parts []string) {
	parent, ok := lookupPath(doc, parts[:len(parts)-1])
	if !ok {
		return
	}
	last := parts[len(parts)-1]
	switch t := parent.(type) {
	case map[string]any:
		delete(t, last)
	case []any:
		if idx, err := strconv.Atoi(last); err == nil && idx >= 0 && idx < len(t) {
			t[idx] = nil
		}
	}
}

func numericOp(cur, arg any, op string) (any, error) {
	if _, ok := toFloat(arg); !ok {
		return nil, common.InvalidParameter("%s requires a number", op)
	}
	if cur == nil {
		switch op {
		case "$inc":
			return arg, nil
		case "$mul":
			if _, isInt := arg.(int64); isInt {
				return int64(0), nil
			}
			return float64(0), nil
		}
	}
	a, aok := cur.(int64)
	b, bok := arg.(int64)
	if aok && bok {
		switch op {
		case "$inc":
			if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
				return float64(a) + float64(b), nil
			}
			return a + b, nil
		case "$mul":
			return a * b, nil
		}
	}
	fa, ok := toFloat(cur)
	if !ok {
		return nil, common.InvalidParameter("%s applied to a non-numeric field", op)
	}
	fb, _ := toFloat(arg)
	if op == "$inc" {
		return fa + fb, nil
	}
	return fa * fb, nil
}

// applyUpdate runs update operators against doc in place. Operators run in a
// fixed order so results do not depend on map iteration.
func applyUpdate(doc map[string]any, update Document, inserting bool) error {
	ops := make([]string, 0, len(update))
	for op := range update {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, op := range ops {
		fields, ok := update[op].(map[string]any)
		if !ok {
			return common.InvalidParameter("%s requires a document", op)
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, field := range keys {
			arg := fields[field]
			parts := splitPath(field)
			if field == IDField && op != "$setOnInsert" && !inserting {
				if cur, ok := doc[IDField]; !ok || !valuesEqual(cur, arg) || op != "$set" {
					return common.InvalidParameter("_id is immutable")
				}
			}
			if err := applyOp(doc, op, parts, arg, inserting); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyOp(doc map[string]any, op string, parts []string, arg any, inserting bool) error {
	cur, exists := lookupPath(doc, parts)

	switch op {
	case "$set":
		return setPath(doc, parts, clone(arg))
	case "$setOnInsert":
		if inserting {
			return setPath(doc, parts, clone(arg))
		}
		return nil
	case "$unset":
		unsetPath(doc, parts)
		return nil
	case "$inc", "$mul":
		if !exists {
			cur = nil
		}
		v, err := numericOp(cur, arg, op)
		if err != nil {
			return err
		}
		return setPath(doc, parts, v)
	case "$min", "$max":
		if !exists {
			return setPath(doc, parts, clone(arg))
		}
		c := sortCompare(arg, cur)
		if (op == "$min" && c < 0) || (op == "$max" && c > 0) {
			return setPath(doc, parts, clone(arg))
		}
		return nil
	case "$rename":
		to, ok := arg.(string)
		if !ok || to == "" {
			return common.InvalidParameter("$rename target must be a string")
		}
		if !exists {
			return nil
		}
		unsetPath(doc, parts)
		return setPath(doc, splitPath(to), cur)
	case "$push", "$addToSet":
		items := []any{arg}
		if m, ok := arg.(map[string]any); ok {
			if each, ok := m["$each"]; ok {
				list, ok := each.([]any)
				if !ok {
					return common.InvalidParameter("$each requires an array")
				}
				items = list
			}
		}
		var arr []any
		if exists && cur != nil {
			a, ok := cur.([]any)
			if !ok {
				return common.InvalidParameter("%s applied to a non-array field", op)
			}
			arr = a
		}
		for _, it := range items {
			if op == "$addToSet" && containsValue(arr, it) {
				continue
			}
			arr = append(arr, clone(it))
		}
		if arr == nil {
			arr = []any{}
		}
		return setPath(doc, parts, arr)
	case "$pull":
		if !exists {
			return nil
		}
		arr, ok := cur.([]any)
		if !ok {
			return common.InvalidParameter("$pull applied to a non-array field")
		}
		kept := make([]any, 0, len(arr))
		for _, e := range arr {
			if !pullMatches(e, arg) {
				kept = append(kept, e)
			}
		}
		return setPath(doc, parts, kept)
	case "$pop":
		if !exists {
			return nil
		}
		arr, ok := cur.([]any)
		if !ok {
			return common.InvalidParameter("$pop applied to a non-array field")
		}
		if len(arr) == 0 {
			return nil
		}
		dir, _ := toFloat(arg)
		if dir < 0 {
			arr = arr[1:]
		} else {
			arr = arr[:len(arr)-1]
		}
		return setPath(doc, parts, append([]any{}, arr...))
	}
	return common.InvalidParameter("unsupported update operator %s", op)
}

func containsValue(arr []any, v any) bool {
	for _, e := range arr {
		if valuesEqual(e, v) {
			return true
		}
	}
	return false
}

// pullMatches treats cond as a filter for document elements, an operator
// expression for scalars, or a literal.
func pullMatches(elem, cond any) bool {
	m, isDoc := cond.(map[string]any)
	switch {
	case isDoc && isOperatorExpr(m):
		if validateOps("$pull", m) != nil {
			return false
		}
		return matchOps([]any{elem}, m)
	case isDoc:
		ed, ok := elem.(map[string]any)
		if !ok {
			return false
		}
		if validateFilter(m) != nil {
			return false
		}
		return matchFilter(ed, m)
	}
	return valuesEqual(elem, cond)
}
