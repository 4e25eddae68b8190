package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// sqlArgs collects positional parameters.
type sqlArgs struct {
	args []any
}

func (a *sqlArgs) add(v any) string {
	a.args = append(a.args, v)
	return "$" + strconv.Itoa(len(a.args))
}

// quoteString renders s as a JSON string literal, which is also valid
// jsonpath syntax.
func quoteString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// jsonPathOf renders a dotted path in lax-mode jsonpath, which searches
// arrays element-wise the way the in-memory matcher does.
func jsonPathOf(parts []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, p := range parts {
		if idx, err := strconv.Atoi(p); err == nil && idx >= 0 {
			fmt.Fprintf(&b, "[%d]", idx)
			continue
		}
		b.WriteString(".")
		b.WriteString(quoteString(p))
	}
	return b.String()
}

// textArray renders a Postgres text[] literal for the #> operator.
func textArray(parts []string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		p = strings.ReplaceAll(p, `\`, `\\`)
		p = strings.ReplaceAll(p, `"`, `\"`)
		quoted[i] = `"` + p + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func varsOf(v any) (string, error) {
	b, err := json.Marshal(map[string]any{"v": v})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compileFilter translates a validated, normalized filter into a boolean
// SQL expression over the doc column. Every generated expression is
// non-null so NOT behaves.
func compileFilter(f Document, a *sqlArgs) (string, error) {
	if len(f) == 0 {
		return "TRUE", nil
	}
	var terms []string
	for _, k := range sortedKeys(f) {
		v := f[k]
		var term string
		var err error
		switch k {
		case "$and", "$or", "$nor":
			var subs []string
			for _, e := range v.([]any) {
				s, err := compileFilter(e.(map[string]any), a)
				if err != nil {
					return "", err
				}
				subs = append(subs, s)
			}
			switch k {
			case "$and":
				term = "(" + strings.Join(subs, " AND ") + ")"
			case "$or":
				term = "(" + strings.Join(subs, " OR ") + ")"
			default:
				term = "NOT (" + strings.Join(subs, " OR ") + ")"
			}
		default:
			parts := splitPath(k)
			if isOperatorExpr(v) {
				term, err = compileOps(parts, v.(map[string]any), a)
			} else {
				term, err = compileEq(parts, v, a)
			}
		}
		if err != nil {
			return "", err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return "(" + strings.Join(terms, " AND ") + ")", nil
}

func compileEq(parts []string, v any, a *sqlArgs) (string, error) {
	path := jsonPathOf(parts)
	switch v.(type) {
	case nil:
		return fmt.Sprintf("(NOT jsonb_path_exists(doc, %s::jsonpath) OR jsonb_path_exists(doc, %s::jsonpath))",
			a.add(path), a.add(path+" ? (@ == null)")), nil
	case string, int64, float64, bool:
		vars, err := varsOf(v)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("jsonb_path_exists(doc, %s::jsonpath, %s::jsonb)",
			a.add(path+" ? (@ == $v)"), a.add(vars)), nil
	}
	// documents, arrays and object ids compare whole
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	p, val := a.add(textArray(parts)), a.add(string(raw))
	return fmt.Sprintf("COALESCE(doc #> %[1]s::text[] = %[2]s::jsonb OR (jsonb_typeof(doc #> %[1]s::text[]) = 'array' AND doc #> %[1]s::text[] @> jsonb_build_array(%[2]s::jsonb)), FALSE)", p, val), nil
}

var cmpOps = map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}

func compileOps(parts []string, ops map[string]any, a *sqlArgs) (string, error) {
	var terms []string
	for _, op := range sortedKeys(ops) {
		arg := ops[op]
		var term string
		var err error
		switch op {
		case "$eq":
			term, err = compileEq(parts, arg, a)
		case "$ne":
			term, err = compileEq(parts, arg, a)
			term = "NOT " + term
		case "$gt", "$gte", "$lt", "$lte":
			path := jsonPathOf(parts)
			if id, ok := arg.(ObjectID); ok {
				path += `."$oid"`
				arg = id.Hex()
			}
			vars, verr := varsOf(arg)
			if verr != nil {
				return "", verr
			}
			term = fmt.Sprintf("jsonb_path_exists(doc, %s::jsonpath, %s::jsonb)",
				a.add(path+" ? (@ "+cmpOps[op]+" $v)"), a.add(vars))
		case "$in", "$nin":
			list := arg.([]any)
			if len(list) == 0 {
				term = "FALSE"
			} else {
				var subs []string
				for _, e := range list {
					s, serr := compileEq(parts, e, a)
					if serr != nil {
						return "", serr
					}
					subs = append(subs, s)
				}
				term = "(" + strings.Join(subs, " OR ") + ")"
			}
			if op == "$nin" {
				term = "NOT " + term
			}
		case "$exists":
			term = fmt.Sprintf("jsonb_path_exists(doc, %s::jsonpath)", a.add(jsonPathOf(parts)))
			if !arg.(bool) {
				term = "NOT " + term
			}
		case "$regex":
			pattern := arg.(string)
			flags, ferr := regexFlags(ops)
			if ferr != nil {
				return "", ferr
			}
			expr := jsonPathOf(parts) + " ? (@ like_regex " + quoteString(pattern)
			if flags != "" {
				expr += " flag " + quoteString(flags)
			}
			term = fmt.Sprintf("jsonb_path_exists(doc, %s::jsonpath)", a.add(expr+")"))
		case "$options":
			continue
		case "$size":
			p := a.add(textArray(parts))
			term = fmt.Sprintf("CASE WHEN jsonb_typeof(doc #> %[1]s::text[]) = 'array' THEN jsonb_array_length(doc #> %[1]s::text[]) = %[2]s ELSE FALSE END", p, a.add(arg.(int64)))
		case "$all":
			list := arg.([]any)
			if len(list) == 0 {
				term = "FALSE"
				break
			}
			var subs []string
			for _, e := range list {
				s, serr := compileEq(parts, e, a)
				if serr != nil {
					return "", serr
				}
				subs = append(subs, s)
			}
			term = "(" + strings.Join(subs, " AND ") + ")"
		case "$not":
			term, err = compileOps(parts, arg.(map[string]any), a)
			term = "NOT " + term
		default:
			return "", fmt.Errorf("docstore: unvalidated operator %s", op)
		}
		if err != nil {
			return "", err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return "(" + strings.Join(terms, " AND ") + ")", nil
}

// compileSort renders an ORDER BY list; seq breaks ties so results are
// stable and match insertion order like the memory engine.
func compileSort(spec SortSpec, a *sqlArgs) string {
	var terms []string
	for _, f := range spec {
		p := a.add(textArray(splitPath(f.Key)))
		if f.Dir < 0 {
			terms = append(terms, "doc #> "+p+"::text[] DESC NULLS LAST")
		} else {
			terms = append(terms, "doc #> "+p+"::text[] ASC NULLS FIRST")
		}
	}
	terms = append(terms, "seq")
	return strings.Join(terms, ", ")
}
