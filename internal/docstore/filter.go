package docstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

// isOperatorExpr reports whether v is {"$op": ...} rather than a literal.
func isOperatorExpr(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

var fieldOperators = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true,
	"$in": true, "$nin": true, "$exists": true, "$regex": true, "$options": true,
	"$size": true, "$all": true, "$not": true,
}

// validateFilter rejects unsupported operators and malformed operands so
// both engines fail the same way.
func validateFilter(f Document) error {
	for k, v := range f {
		switch k {
		case "$and", "$or", "$nor":
			list, ok := v.([]any)
			if !ok || len(list) == 0 {
				return common.InvalidParameter("%s requires a non-empty array", k)
			}
			for _, e := range list {
				sub, ok := e.(map[string]any)
				if !ok {
					return common.InvalidParameter("%s entries must be documents", k)
				}
				if err := validateFilter(sub); err != nil {
					return err
				}
			}
			continue
		}
		if strings.HasPrefix(k, "$") {
			return common.InvalidParameter("unsupported top-level operator %s", k)
		}
		if isOperatorExpr(v) {
			if err := validateOps(k, v.(map[string]any)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateOps(field string, ops map[string]any) error {
	for op, arg := range ops {
		if !fieldOperators[op] {
			return common.InvalidParameter("unsupported operator %s on %s", op, field)
		}
		switch op {
		case "$in", "$nin", "$all":
			if _, ok := arg.([]any); !ok {
				return common.InvalidParameter("%s on %s requires an array", op, field)
			}
		case "$exists":
			if _, ok := arg.(bool); !ok {
				return common.InvalidParameter("$exists on %s requires a boolean", field)
			}
		case "$size":
			if _, ok := arg.(int64); !ok {
				return common.InvalidParameter("$size on %s requires an integer", field)
			}
		case "$regex":
			if _, err := compileRegex(ops); err != nil {
				return err
			}
		case "$options":
			if _, ok := ops["$regex"]; !ok {
				return common.InvalidParameter("$options on %s without $regex", field)
			}
		case "$not":
			sub, ok := arg.(map[string]any)
			if !ok || !isOperatorExpr(sub) {
				return common.InvalidParameter("$not on %s requires an operator document", field)
			}
			if err := validateOps(field, sub); err != nil {
				return err
			}
		case "$gt", "$gte", "$lt", "$lte":
			switch arg.(type) {
			case []any, map[string]any:
				return common.InvalidParameter("%s on %s requires a scalar", op, field)
			}
		}
	}
	return nil
}

func regexFlags(ops map[string]any) (string, error) {
	opt, _ := ops["$options"].(string)
	for _, c := range opt {
		if !strings.ContainsRune("ims", c) {
			return "", common.InvalidParameter("unsupported regex option %q", c)
		}
	}
	return opt, nil
}

func compileRegex(ops map[string]any) (*regexp.Regexp, error) {
	pattern, ok := ops["$regex"].(string)
	if !ok {
		return nil, common.InvalidParameter("$regex requires a string")
	}
	flags, err := regexFlags(ops)
	if err != nil {
		return nil, err
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, common.InvalidParameter("bad regex: %v", err)
	}
	return re, nil
}

// matchFilter evaluates a validated, normalized filter against doc.
func matchFilter(doc Document, f Document) bool {
	for k, v := range f {
		var ok bool
		switch k {
		case "$and":
			ok = true
			for _, e := range v.([]any) {
				if !matchFilter(doc, e.(map[string]any)) {
					ok = false
					break
				}
			}
		case "$or":
			for _, e := range v.([]any) {
				if matchFilter(doc, e.(map[string]any)) {
					ok = true
					break
				}
			}
		case "$nor":
			ok = true
			for _, e := range v.([]any) {
				if matchFilter(doc, e.(map[string]any)) {
					ok = false
					break
				}
			}
		default:
			vals := resolve(map[string]any(doc), splitPath(k))
			if isOperatorExpr(v) {
				ok = matchOps(vals, v.(map[string]any))
			} else {
				ok = matchEq(vals, v)
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func matchEq(vals []any, want any) bool {
	if want == nil && len(vals) == 0 {
		return true
	}
	for _, v := range expand(vals) {
		if valuesEqual(v, want) {
			return true
		}
	}
	return false
}

func matchCmp(vals []any, want any, accept func(int) bool) bool {
	for _, v := range expand(vals) {
		if _, isArr := v.([]any); isArr {
			continue
		}
		if c, ok := compareValues(v, want); ok && accept(c) {
			return true
		}
	}
	return false
}

func matchOps(vals []any, ops map[string]any) bool {
	for op, arg := range ops {
		var ok bool
		switch op {
		case "$eq":
			ok = matchEq(vals, arg)
		case "$ne":
			ok = !matchEq(vals, arg)
		case "$gt":
			ok = matchCmp(vals, arg, func(c int) bool { return c > 0 })
		case "$gte":
			ok = matchCmp(vals, arg, func(c int) bool { return c >= 0 })
		case "$lt":
			ok = matchCmp(vals, arg, func(c int) bool { return c < 0 })
		case "$lte":
			ok = matchCmp(vals, arg, func(c int) bool { return c <= 0 })
		case "$in":
			ok = matchIn(vals, arg.([]any))
		case "$nin":
			ok = !matchIn(vals, arg.([]any))
		case "$exists":
			ok = (len(vals) > 0) == arg.(bool)
		case "$regex":
			re, err := compileRegex(ops)
			if err != nil {
				return false
			}
			for _, v := range expand(vals) {
				if s, isStr := v.(string); isStr && re.MatchString(s) {
					ok = true
					break
				}
			}
		case "$options":
			ok = true
		case "$size":
			for _, v := range vals {
				if arr, isArr := v.([]any); isArr && int64(len(arr)) == arg.(int64) {
					ok = true
					break
				}
			}
		case "$all":
			ok = len(arg.([]any)) > 0
			for _, e := range arg.([]any) {
				if !matchEq(vals, e) {
					ok = false
					break
				}
			}
		case "$not":
			ok = !matchOps(vals, arg.(map[string]any))
		default:
			panic(fmt.Sprintf("docstore: unvalidated operator %s", op))
		}
		if !ok {
			return false
		}
	}
	return true
}

func matchIn(vals []any, list []any) bool {
	for _, e := range list {
		if matchEq(vals, e) {
			return true
		}
	}
	return false
}
