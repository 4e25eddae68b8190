package database

import (
	"encoding/json"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/docstore"
)

// Request options arrive as loosely typed JSON objects. Unknown keys are
// ignored; the cursor hints (allow_partial_results, return_key,
// show_record_id, batch_size) are accepted but have no effect.

func boolOpt(raw map[string]any, key string, def bool) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, common.InvalidParameter("option %s must be a boolean", key)
	}
	return b, nil
}

func intOpt(raw map[string]any, key string) (int64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, nil
	}
	var n int64
	switch t := docstore.Normalize(v).(type) {
	case int64:
		n = t
	case float64:
		if t != float64(int64(t)) {
			return 0, common.InvalidParameter("option %s must be an integer", key)
		}
		n = int64(t)
	default:
		return 0, common.InvalidParameter("option %s must be an integer", key)
	}
	if n < 0 {
		return 0, common.InvalidParameter("option %s must not be negative", key)
	}
	return n, nil
}

func docOpt(raw map[string]any, key string) (docstore.Document, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, nil
	}
	d, ok := v.(map[string]any)
	if !ok {
		return nil, common.InvalidParameter("option %s must be a document", key)
	}
	return d, nil
}

// ParseInsertOptions reads ordered, bypass_document_validation and
// timestamp. Timestamps are injected unless timestamp is false.
func ParseInsertOptions(raw map[string]any) (docstore.InsertOptions, error) {
	var opts docstore.InsertOptions
	var err error
	if opts.Ordered, err = boolOpt(raw, "ordered", true); err != nil {
		return opts, err
	}
	if opts.BypassDocumentValidation, err = boolOpt(raw, "bypass_document_validation", false); err != nil {
		return opts, err
	}
	if opts.Timestamp, err = boolOpt(raw, "timestamp", true); err != nil {
		return opts, err
	}
	return opts, nil
}

func ParseUpdateOptions(raw map[string]any) (docstore.UpdateOptions, error) {
	var opts docstore.UpdateOptions
	var err error
	if opts.Upsert, err = boolOpt(raw, "upsert", false); err != nil {
		return opts, err
	}
	if opts.BypassDocumentValidation, err = boolOpt(raw, "bypass_document_validation", false); err != nil {
		return opts, err
	}
	if opts.Timestamp, err = boolOpt(raw, "timestamp", true); err != nil {
		return opts, err
	}
	return opts, nil
}

// ParseFindOptions reads projection, skip, limit and sort. Sort accepts
// the mapping and the pair-list forms; a json.RawMessage sort keeps the
// key order of a mapping.
func ParseFindOptions(raw map[string]any) (docstore.FindOptions, error) {
	var opts docstore.FindOptions
	var err error
	if opts.Projection, err = docOpt(raw, "projection"); err != nil {
		return opts, err
	}
	if opts.Skip, err = intOpt(raw, "skip"); err != nil {
		return opts, err
	}
	if opts.Limit, err = intOpt(raw, "limit"); err != nil {
		return opts, err
	}
	sortOpt := raw["sort"]
	if _, ok := sortOpt.(json.RawMessage); !ok {
		sortOpt = docstore.Normalize(sortOpt)
	}
	if opts.Sort, err = docstore.ParseSort(sortOpt); err != nil {
		return opts, err
	}
	for _, k := range []string{"allow_partial_results", "return_key", "show_record_id"} {
		if _, err := boolOpt(raw, k, false); err != nil {
			return opts, err
		}
	}
	if _, err := intOpt(raw, "batch_size"); err != nil {
		return opts, err
	}
	return opts, nil
}

func ParseCountOptions(raw map[string]any) (docstore.CountOptions, error) {
	var opts docstore.CountOptions
	var err error
	if opts.Skip, err = intOpt(raw, "skip"); err != nil {
		return opts, err
	}
	if opts.Limit, err = intOpt(raw, "limit"); err != nil {
		return opts, err
	}
	return opts, nil
}
