package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

type memCollection struct {
	docs  map[string]Document
	order []string // insertion order of ids
}

func (c *memCollection) all() []Document {
	out := make([]Document, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.docs[id])
	}
	return out
}

func (c *memCollection) remove(id string) {
	delete(c.docs, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Memory is an in-process Store.
type Memory struct {
	mu  sync.RWMutex
	dbs map[string]map[string]*memCollection
}

func NewMemory() *Memory {
	return &Memory{dbs: make(map[string]map[string]*memCollection)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) coll(db, name string, create bool) *memCollection {
	colls := m.dbs[db]
	if colls == nil {
		if !create {
			return nil
		}
		colls = make(map[string]*memCollection)
		m.dbs[db] = colls
	}
	c := colls[name]
	if c == nil && create {
		c = &memCollection{docs: make(map[string]Document)}
		colls[name] = c
	}
	return c
}

func (m *Memory) insert(c *memCollection, d Document) error {
	key := jsonKey(d[IDField])
	if _, dup := c.docs[key]; dup {
		return common.AlreadyExists("duplicate _id %s", key)
	}
	c.docs[key] = d
	c.order = append(c.order, key)
	return nil
}

func (m *Memory) InsertOne(ctx context.Context, db, coll string, doc Document, opts InsertOptions) (*InsertOneResult, error) {
	res, err := m.InsertMany(ctx, db, coll, []Document{doc}, opts)
	if err != nil {
		return nil, err
	}
	return &InsertOneResult{InsertedID: res.InsertedIDs[0]}, nil
}

func (m *Memory) InsertMany(_ context.Context, db, coll string, docs []Document, opts InsertOptions) (*InsertManyResult, error) {
	if err := validateNames(db, coll); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.InvalidParameter("no documents to insert")
	}
	prepared := make([]Document, 0, len(docs))
	for _, d := range docs {
		p, err := prepareInsert(d, opts.Timestamp)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(db, coll, true)
	res := &InsertManyResult{}
	for _, d := range prepared {
		if err := m.insert(c, d); err != nil {
			return res, err
		}
		res.InsertedIDs = append(res.InsertedIDs, d[IDField])
	}
	return res, nil
}

func (m *Memory) update(db, coll string, filter, update Document, opts UpdateOptions, many, replace bool) (*UpdateResult, error) {
	if err := validateNames(db, coll); err != nil {
		return nil, err
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	if replace {
		update, err = checkReplacement(update)
	} else {
		update, err = checkUpdate(update)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	res := &UpdateResult{}
	if c := m.coll(db, coll, false); c != nil {
		for _, id := range append([]string(nil), c.order...) {
			d := c.docs[id]
			if !matchFilter(d, f) {
				continue
			}
			res.MatchedCount++
			out, changed, err := applyWrite(d, update, replace, false, opts.Timestamp)
			if err != nil {
				return nil, err
			}
			if changed {
				c.docs[id] = out
				res.ModifiedCount++
			}
			if !many {
				break
			}
		}
	}
	if res.MatchedCount > 0 || !opts.Upsert {
		return res, nil
	}

	out, _, err := applyWrite(upsertSeed(f), update, replace, true, opts.Timestamp)
	if err != nil {
		return nil, err
	}
	if replace {
		if id, ok := f[IDField]; ok && !isOperatorExpr(id) {
			out[IDField] = id
		}
	}
	out, err = prepareInsert(out, false)
	if err != nil {
		return nil, err
	}
	if err := m.insert(m.coll(db, coll, true), out); err != nil {
		return nil, err
	}
	res.UpsertedID = out[IDField]
	return res, nil
}

func (m *Memory) UpdateOne(_ context.Context, db, coll string, filter, update Document, opts UpdateOptions) (*UpdateResult, error) {
	return m.update(db, coll, filter, update, opts, false, false)
}

func (m *Memory) UpdateMany(_ context.Context, db, coll string, filter, update Document, opts UpdateOptions) (*UpdateResult, error) {
	return m.update(db, coll, filter, update, opts, true, false)
}

func (m *Memory) ReplaceOne(_ context.Context, db, coll string, filter, replacement Document, opts UpdateOptions) (*UpdateResult, error) {
	return m.update(db, coll, filter, replacement, opts, false, true)
}

// matching returns the matching documents in insertion order, unprojected.
func (m *Memory) matching(db, coll string, filter Document) ([]Document, error) {
	if err := validateNames(db, coll); err != nil {
		return nil, err
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.coll(db, coll, false)
	if c == nil {
		return nil, nil
	}
	var out []Document
	for _, d := range c.all() {
		if matchFilter(d, f) {
			out = append(out, cloneDoc(d))
		}
	}
	return out, nil
}

func window[T any](items []T, skip, limit int64) []T {
	if skip > 0 {
		if skip >= int64(len(items)) {
			return items[:0]
		}
		items = items[skip:]
	}
	if limit > 0 && limit < int64(len(items)) {
		items = items[:limit]
	}
	return items
}

func (m *Memory) Find(_ context.Context, db, coll string, filter Document, opts FindOptions) ([]Document, error) {
	if _, err := validateProjection(opts.Projection); err != nil {
		return nil, err
	}
	docs, err := m.matching(db, coll, filter)
	if err != nil {
		return nil, err
	}
	sortDocs(docs, opts.Sort)
	docs = window(docs, opts.Skip, opts.Limit)
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, project(d, opts.Projection))
	}
	return out, nil
}

func (m *Memory) FindOne(ctx context.Context, db, coll string, filter Document, opts FindOptions) (Document, error) {
	opts.Limit = 1
	docs, err := m.Find(ctx, db, coll, filter, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	return docs[0], nil
}

func (m *Memory) Count(_ context.Context, db, coll string, filter Document, opts CountOptions) (int64, error) {
	docs, err := m.matching(db, coll, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(window(docs, opts.Skip, opts.Limit))), nil
}

func (m *Memory) delete(db, coll string, filter Document, many bool) (int64, error) {
	if err := validateNames(db, coll); err != nil {
		return 0, err
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(db, coll, false)
	if c == nil {
		return 0, nil
	}
	var n int64
	for _, id := range append([]string(nil), c.order...) {
		if matchFilter(c.docs[id], f) {
			c.remove(id)
			n++
			if !many {
				break
			}
		}
	}
	return n, nil
}

func (m *Memory) DeleteOne(_ context.Context, db, coll string, filter Document) (int64, error) {
	return m.delete(db, coll, filter, false)
}

func (m *Memory) DeleteMany(_ context.Context, db, coll string, filter Document) (int64, error) {
	return m.delete(db, coll, filter, true)
}

func (m *Memory) Distinct(_ context.Context, db, coll, field string, filter Document) ([]any, error) {
	docs, err := m.matching(db, coll, filter)
	if err != nil {
		return nil, err
	}
	return distinctValues(docs, field), nil
}

func (m *Memory) CreateCollection(_ context.Context, db, coll string) error {
	if err := validateNames(db, coll); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coll(db, coll, false) != nil {
		return common.AlreadyExists("collection %s already exists", coll)
	}
	m.coll(db, coll, true)
	return nil
}

func (m *Memory) DropCollection(_ context.Context, db, coll string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dbs[db], coll)
	return nil
}

func (m *Memory) ListCollections(_ context.Context, db string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.dbs[db]))
	for name := range m.dbs[db] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) DropDatabase(_ context.Context, db string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dbs, db)
	return nil
}

// DatabaseSize is the encoded size of all documents.
func (m *Memory) DatabaseSize(_ context.Context, db string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, c := range m.dbs[db] {
		for _, d := range c.docs {
			b, err := json.Marshal(d)
			if err != nil {
				return 0, err
			}
			n += int64(len(b))
		}
	}
	return n, nil
}

func (m *Memory) Dump(ctx context.Context, db string, w io.Writer) error {
	names, err := m.ListCollections(ctx, db)
	if err != nil {
		return err
	}
	enc := newDumpWriter(w)
	for _, name := range names {
		m.mu.RLock()
		var docs []Document
		if c := m.coll(db, name, false); c != nil {
			docs = c.all()
		}
		m.mu.RUnlock()
		if err := enc.writeCollection(name, docs); err != nil {
			return err
		}
	}
	return enc.flush()
}

func (m *Memory) Restore(ctx context.Context, db string, r io.Reader) error {
	fresh := make(map[string]*memCollection)
	err := readDump(r, func(coll string, doc Document) error {
		c := fresh[coll]
		if c == nil {
			c = &memCollection{docs: make(map[string]Document)}
			fresh[coll] = c
		}
		if doc == nil {
			return nil
		}
		if _, ok := doc[IDField]; !ok {
			return fmt.Errorf("dump document in %s has no _id", coll)
		}
		return m.insert(c, doc)
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dbs[db] = fresh
	return nil
}
