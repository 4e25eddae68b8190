// Package docstore is the document database behind every (user, app) pair.
// Databases hold named collections of JSON documents queried with
// MongoDB-style filters and updates. Two engines implement Store: a
// Postgres engine mapping databases to schemas and collections to JSONB
// tables, and an in-memory engine with the same semantics.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

// Document is a normalized JSON object.
type Document = map[string]any

// ErrNoDocuments is returned by FindOne when nothing matches.
var ErrNoDocuments = errors.New("no documents")

// IDField is the primary key of every document.
const IDField = "_id"

// Timestamp fields injected when requested.
const (
	CreatedField  = "created"
	ModifiedField = "modified"
)

type InsertOptions struct {
	Ordered                  bool
	BypassDocumentValidation bool
	Timestamp                bool
}

type UpdateOptions struct {
	Upsert                   bool
	BypassDocumentValidation bool
	Timestamp                bool
}

type FindOptions struct {
	Projection Document
	Sort       SortSpec
	Skip       int64
	Limit      int64
}

type CountOptions struct {
	Skip  int64
	Limit int64
}

type InsertOneResult struct {
	InsertedID any
}

type InsertManyResult struct {
	InsertedIDs []any
}

type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedID    any
}

// Store is a set of databases. Collections spring into existence on first
// write; reading a missing collection or database yields no documents.
type Store interface {
	InsertOne(ctx context.Context, db, coll string, doc Document, opts InsertOptions) (*InsertOneResult, error)
	InsertMany(ctx context.Context, db, coll string, docs []Document, opts InsertOptions) (*InsertManyResult, error)
	UpdateOne(ctx context.Context, db, coll string, filter, update Document, opts UpdateOptions) (*UpdateResult, error)
	UpdateMany(ctx context.Context, db, coll string, filter, update Document, opts UpdateOptions) (*UpdateResult, error)
	ReplaceOne(ctx context.Context, db, coll string, filter, replacement Document, opts UpdateOptions) (*UpdateResult, error)
	FindOne(ctx context.Context, db, coll string, filter Document, opts FindOptions) (Document, error)
	Find(ctx context.Context, db, coll string, filter Document, opts FindOptions) ([]Document, error)
	Count(ctx context.Context, db, coll string, filter Document, opts CountOptions) (int64, error)
	DeleteOne(ctx context.Context, db, coll string, filter Document) (int64, error)
	DeleteMany(ctx context.Context, db, coll string, filter Document) (int64, error)
	Distinct(ctx context.Context, db, coll, field string, filter Document) ([]any, error)

	CreateCollection(ctx context.Context, db, coll string) error
	DropCollection(ctx context.Context, db, coll string) error
	ListCollections(ctx context.Context, db string) ([]string, error)
	DropDatabase(ctx context.Context, db string) error
	DatabaseSize(ctx context.Context, db string) (int64, error)

	// Dump writes every document of db as JSON lines. Restore replaces the
	// contents of db with a dump.
	Dump(ctx context.Context, db string, w io.Writer) error
	Restore(ctx context.Context, db string, r io.Reader) error
}

const maxNameLen = 63

// ValidateName checks a database or collection name.
func ValidateName(kind, name string) error {
	switch {
	case name == "":
		return common.InvalidParameter("%s name is empty", kind)
	case len(name) > maxNameLen:
		return common.InvalidParameter("%s name %q is longer than %d bytes", kind, name, maxNameLen)
	case strings.ContainsAny(name, "\x00$"):
		return common.InvalidParameter("%s name %q contains invalid characters", kind, name)
	}
	return nil
}

func validateNames(db, coll string) error {
	if err := ValidateName("database", db); err != nil {
		return err
	}
	return ValidateName("collection", coll)
}

var now = func() int64 { return time.Now().Unix() }

// jsonKey is the canonical string of a value; it keys documents by _id.
func jsonKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// prepareInsert normalizes doc, assigns a missing _id and stamps it.
func prepareInsert(doc Document, timestamp bool) (Document, error) {
	if doc == nil {
		return nil, common.InvalidParameter("document is required")
	}
	d, err := normalizeDoc(doc)
	if err != nil {
		return nil, err
	}
	for k := range d {
		if strings.HasPrefix(k, "$") {
			return nil, common.InvalidParameter("field name %q must not start with '$'", k)
		}
	}
	if _, ok := d[IDField]; !ok {
		d[IDField] = NewObjectID()
	}
	if timestamp {
		t := now()
		d[CreatedField] = t
		d[ModifiedField] = t
	}
	return d, nil
}

// normalizeDoc returns a normalized deep copy of d.
func normalizeDoc(d Document) (Document, error) {
	out, ok := Normalize(cloneDoc(d)).(map[string]any)
	if !ok {
		return nil, common.InvalidParameter("expected a document")
	}
	return out, nil
}

// upsertSeed builds the document an upsert starts from: the equality
// conditions of the filter.
func upsertSeed(filter Document) Document {
	seed := Document{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") || isOperatorExpr(v) {
			continue
		}
		setPath(seed, splitPath(k), clone(v))
	}
	return seed
}

// applyWrite computes the new version of doc. A replacement keeps the _id.
func applyWrite(doc Document, update Document, replace, inserting, timestamp bool) (Document, bool, error) {
	var out Document
	if replace {
		out = cloneDoc(update)
		delete(out, IDField)
		if id, ok := doc[IDField]; ok {
			out[IDField] = id
		}
		if timestamp {
			if c, ok := doc[CreatedField]; ok && !inserting {
				out[CreatedField] = c
			}
		}
	} else {
		out = cloneDoc(doc)
		if err := applyUpdate(out, update, inserting); err != nil {
			return nil, false, err
		}
	}

	if idBefore, ok := doc[IDField]; ok && !inserting {
		if !valuesEqual(idBefore, out[IDField]) {
			return nil, false, common.InvalidParameter("_id is immutable")
		}
	}
	changed := inserting || !valuesEqual(map[string]any(doc), map[string]any(out))
	if timestamp && changed {
		t := now()
		out[ModifiedField] = t
		if inserting {
			if _, ok := out[CreatedField]; !ok {
				out[CreatedField] = t
			}
		}
	}
	return out, changed, nil
}

// checkUpdate validates an update document for UpdateOne/UpdateMany.
func checkUpdate(update Document) (Document, error) {
	if len(update) == 0 {
		return nil, common.InvalidParameter("update document is empty")
	}
	u, err := normalizeDoc(update)
	if err != nil {
		return nil, err
	}
	for k := range u {
		if !strings.HasPrefix(k, "$") {
			return nil, common.InvalidParameter("update must only contain operators, got %q", k)
		}
	}
	return u, nil
}

func checkReplacement(repl Document) (Document, error) {
	if repl == nil {
		return nil, common.InvalidParameter("replacement document is required")
	}
	r, err := normalizeDoc(repl)
	if err != nil {
		return nil, err
	}
	for k := range r {
		if strings.HasPrefix(k, "$") {
			return nil, common.InvalidParameter("replacement must not contain operators")
		}
	}
	return r, nil
}

func normalizeFilter(filter Document) (Document, error) {
	if filter == nil {
		return Document{}, nil
	}
	f, err := normalizeDoc(filter)
	if err != nil {
		return nil, err
	}
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	return f, nil
}

// distinctValues collects the distinct values of field across docs,
// unwinding arrays.
func distinctValues(docs []Document, field string) []any {
	seen := map[string]bool{}
	out := []any{}
	for _, d := range docs {
		for _, v := range resolve(map[string]any(d), splitPath(field)) {
			vals := []any{v}
			if arr, ok := v.([]any); ok {
				vals = arr
			}
			for _, e := range vals {
				k := jsonKey(e)
				if !seen[k] {
					seen[k] = true
					out = append(out, e)
				}
			}
		}
	}
	return out
}

// DumpRecord is one line of a dump.
type DumpRecord struct {
	Collection string          `json:"collection"`
	Document   json.RawMessage `json:"document"`
}
