package docstore

import (
	"sort"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

func truthy(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int:
		return t != 0, nil
	case int64:
		return t != 0, nil
	case float64:
		return t != 0, nil
	}
	return false, common.InvalidParameter("projection values must be 0/1 or booleans")
}

// validateProjection returns whether proj is an inclusion projection.
func validateProjection(proj Document) (bool, error) {
	include, exclude := false, false
	for k, v := range proj {
		on, err := truthy(v)
		if err != nil {
			return false, err
		}
		if k == IDField {
			continue
		}
		if on {
			include = true
		} else {
			exclude = true
		}
	}
	if include && exclude {
		return false, common.InvalidParameter("projection cannot mix inclusion and exclusion")
	}
	return include, nil
}

// project applies a validated projection. _id is kept unless excluded.
func project(doc Document, proj Document) Document {
	if len(proj) == 0 {
		return doc
	}
	include, _ := validateProjection(proj)
	keepID := true
	if v, ok := proj[IDField]; ok {
		keepID, _ = truthy(v)
	}

	var out Document
	if include {
		out = Document{}
		keys := make([]string, 0, len(proj))
		for k := range proj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == IDField {
				continue
			}
			if on, _ := truthy(proj[k]); !on {
				continue
			}
			parts := splitPath(k)
			if v, ok := lookupPath(map[string]any(doc), parts); ok {
				_ = setPath(out, parts, clone(v))
			}
		}
	} else {
		out = cloneDoc(doc)
		for k, v := range proj {
			if k == IDField {
				continue
			}
			if on, _ := truthy(v); !on {
				unsetPath(out, splitPath(k))
			}
		}
	}

	if keepID {
		if id, ok := doc[IDField]; ok {
			out[IDField] = id
		}
	} else {
		delete(out, IDField)
	}
	return out
}
