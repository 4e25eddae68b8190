package docstore

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

// SortField orders by Key; Dir is 1 (ascending) or -1 (descending).
type SortField struct {
	Key string
	Dir int
}

type SortSpec []SortField

// ParseSort accepts the mapping form {"field": 1} and the pair-list form
// [["field", 1], ...], either decoded or as raw JSON. A raw mapping sorts
// by its keys in the order they were written. A decoded mapping has lost
// that order and sorts by key name.
func ParseSort(v any) (SortSpec, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case json.RawMessage:
		pairs, err := sortPairs(t)
		if err != nil {
			return nil, err
		}
		if pairs == nil {
			return nil, nil
		}
		return ParseSort(pairs)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		spec := make(SortSpec, 0, len(keys))
		for _, k := range keys {
			dir, err := sortDir(t[k])
			if err != nil {
				return nil, err
			}
			spec = append(spec, SortField{Key: k, Dir: dir})
		}
		return spec, nil
	case []any:
		spec := make(SortSpec, 0, len(t))
		for _, e := range t {
			pair, ok := e.([]any)
			if !ok || len(pair) != 2 {
				return nil, common.InvalidParameter("sort entries must be [field, direction] pairs")
			}
			key, ok := pair[0].(string)
			if !ok || key == "" {
				return nil, common.InvalidParameter("sort field must be a string")
			}
			dir, err := sortDir(pair[1])
			if err != nil {
				return nil, err
			}
			spec = append(spec, SortField{Key: key, Dir: dir})
		}
		return spec, nil
	}
	return nil, common.InvalidParameter("sort must be a document or a list of pairs")
}

// sortPairs decodes raw sort JSON, turning a mapping into the pair-list
// form in key order.
func sortPairs(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, common.InvalidParameter("sort: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		v, err := DecodeValue(raw)
		if err != nil {
			return nil, common.InvalidParameter("sort: %v", err)
		}
		return v, nil
	}
	pairs := []any{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, common.InvalidParameter("sort: %v", err)
		}
		key, _ := tok.(string)
		var dir any
		if err := dec.Decode(&dir); err != nil {
			return nil, common.InvalidParameter("sort: %v", err)
		}
		pairs = append(pairs, []any{key, Normalize(dir)})
	}
	return pairs, nil
}

func sortDir(v any) (int, error) {
	f, ok := toFloat(v)
	if !ok || (f != 1 && f != -1) {
		return 0, common.InvalidParameter("sort direction must be 1 or -1")
	}
	return int(f), nil
}

// sortValue is the value a document sorts by, nil when missing.
func sortValue(doc Document, key string) any {
	vals := resolve(map[string]any(doc), splitPath(key))
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

func sortDocs(docs []Document, spec SortSpec) {
	if len(spec) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range spec {
			c := sortCompare(sortValue(docs[i], f.Key), sortValue(docs[j], f.Key))
			if c != 0 {
				return c*f.Dir < 0
			}
		}
		return false
	})
}
