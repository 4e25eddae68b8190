package scripting

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/hivenode/internal/docstore"
)

const (
	callerDIDVar    = "$caller_did"
	callerAppDIDVar = "$caller_app_did"
)

// varRef matches ${params.key}, $params.key and the caller variables.
var varRef = regexp.MustCompile(`\$\{params\.([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\}|\$params\.([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)|\$caller_app_did|\$caller_did`)

// substituter replaces parameter and caller references in node bodies.
type substituter struct {
	params       map[string]any
	callerDID    string
	callerAppDID string
}

// script returns a copy of the script document with every condition and
// executable body substituted.
func (s *substituter) script(d docstore.Document) (docstore.Document, error) {
	out := docstore.Document{}
	for k, v := range d {
		out[k] = v
	}
	var err error
	if c, ok := d["condition"]; ok && c != nil {
		if out["condition"], err = s.node(c); err != nil {
			return nil, err
		}
	}
	if e, ok := d["executable"]; ok && e != nil {
		if out["executable"], err = s.node(e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *substituter) node(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	out := make(map[string]any, len(m))
	for k, e := range m {
		out[k] = e
	}
	switch body := m["body"].(type) {
	case []any:
		// and, or, aggregated: the body lists child nodes
		list := make([]any, len(body))
		for i, child := range body {
			n, err := s.node(child)
			if err != nil {
				return nil, err
			}
			list[i] = n
		}
		out["body"] = list
	case nil:
	default:
		b, err := s.value(body)
		if err != nil {
			return nil, err
		}
		out["body"] = b
	}
	return out, nil
}

func (s *substituter) value(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return s.str(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			r, err := s.value(e)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			r, err := s.value(e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

// str substitutes one string in a single pass, so text taken from a
// parameter is never substituted again. A reference that is the whole
// string yields the native value; embedded references are replaced by
// their text.
func (s *substituter) str(v string) (any, error) {
	locs := varRef.FindAllStringSubmatchIndex(v, -1)
	if len(locs) == 0 {
		return v, nil
	}
	if len(locs) == 1 && locs[0][0] == 0 && locs[0][1] == len(v) {
		return s.resolve(v, locs[0])
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		r, err := s.resolve(v, loc)
		if err != nil {
			return nil, err
		}
		b.WriteString(v[last:loc[0]])
		b.WriteString(textOf(r))
		last = loc[1]
	}
	b.WriteString(v[last:])
	return b.String(), nil
}

func (s *substituter) resolve(v string, loc []int) (any, error) {
	switch v[loc[0]:loc[1]] {
	case callerDIDVar:
		return s.callerDID, nil
	case callerAppDIDVar:
		return s.callerAppDID, nil
	}
	return s.lookup(paramKey(v, loc))
}

func paramKey(v string, loc []int) string {
	if loc[2] >= 0 {
		return v[loc[2]:loc[3]]
	}
	return v[loc[4]:loc[5]]
}

// lookup resolves a dotted key in the parameters.
func (s *substituter) lookup(key string) (any, error) {
	var cur any = s.params
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, invalid("parameter %q is missing", key)
		}
		if cur, ok = m[part]; !ok {
			return nil, invalid("parameter %q is missing", key)
		}
	}
	return cur, nil
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
