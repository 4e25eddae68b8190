package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Normalize rewrites decoded JSON into the value space the store works on:
// {"$oid": hex} becomes ObjectID and json.Number becomes int64 or float64.
// Maps and slices are rewritten in place.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if s, ok := t["$oid"].(string); ok {
				if id, err := ParseObjectID(s); err == nil {
					return id
				}
			}
		}
		for k, e := range t {
			t[k] = Normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = Normalize(e)
		}
		return t
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	}
	return v
}

// DecodeDocument parses one JSON object into a normalized Document.
func DecodeDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode document: not an object")
	}
	out, ok := Normalize(doc).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode document: not a document")
	}
	return out, nil
}

// DecodeValue parses any JSON value and normalizes it.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

// clone deep-copies a normalized value.
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = clone(e)
		}
		return out
	}
	return v
}

func cloneDoc(d Document) Document {
	if d == nil {
		return nil
	}
	return clone(map[string]any(d)).(map[string]any)
}
