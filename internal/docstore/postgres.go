package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/dbx"
)

// Postgres stores each database as a schema and each collection as a table
// (id TEXT PRIMARY KEY, doc JSONB, seq BIGSERIAL). Filters run in SQL;
// updates are applied in Go to rows locked FOR UPDATE.
type Postgres struct {
	db      *sql.DB
	ensured sync.Map // schema-qualified table -> struct{}
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func tableName(db, coll string) string {
	return pgx.Identifier{db, coll}.Sanitize()
}

func schemaName(db string) string {
	return pgx.Identifier{db}.Sanitize()
}

func (p *Postgres) ensureTable(ctx context.Context, q dbx.DBTX, db, coll string) error {
	t := tableName(db, coll)
	if _, ok := p.ensured.Load(t); ok {
		return nil
	}
	if _, err := q.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schemaName(db)); err != nil && !dbx.IsUniqueViolation(err) {
		return fmt.Errorf("db error: %w", err)
	}
	_, err := q.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+t+
		" (id TEXT PRIMARY KEY, doc JSONB NOT NULL, seq BIGSERIAL)")
	if err != nil && !dbx.IsUniqueViolation(err) && !dbx.IsDuplicateTable(err) {
		return fmt.Errorf("db error: %w", err)
	}
	p.ensured.Store(t, struct{}{})
	return nil
}

func (p *Postgres) forget(db string) {
	prefix := schemaName(db) + "."
	p.ensured.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			p.ensured.Delete(k)
		}
		return true
	})
}

func scanDocs(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		d, err := DecodeDocument(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func insertRow(ctx context.Context, q dbx.DBTX, table string, d Document) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, "INSERT INTO "+table+" (id, doc) VALUES ($1, $2::jsonb)", jsonKey(d[IDField]), string(raw))
	if dbx.IsUniqueViolation(err) {
		return common.AlreadyExists("duplicate _id %s", jsonKey(d[IDField]))
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *Postgres) InsertOne(ctx context.Context, db, coll string, doc Document, opts InsertOptions) (*InsertOneResult, error) {
	res, err := p.InsertMany(ctx, db, coll, []Document{doc}, opts)
	if err != nil {
		return nil, err
	}
	return &InsertOneResult{InsertedID: res.InsertedIDs[0]}, nil
}

func (p *Postgres) InsertMany(ctx context.Context, db, coll string, docs []Document, opts InsertOptions) (*InsertManyResult, error) {
	if err := validateNames(db, coll); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, common.InvalidParameter("no documents to insert")
	}
	prepared := make([]Document, 0, len(docs))
	for _, d := range docs {
		pd, err := prepareInsert(d, opts.Timestamp)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, pd)
	}

	insert := func() error {
		if err := p.ensureTable(ctx, p.db, db, coll); err != nil {
			return err
		}
		return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			for _, d := range prepared {
				if err := insertRow(ctx, tx, tableName(db, coll), d); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := insert()
	if dbx.IsUndefinedTable(err) {
		// dropped behind our back
		p.forget(db)
		err = insert()
	}
	if err != nil {
		return nil, err
	}

	res := &InsertManyResult{}
	for _, d := range prepared {
		res.InsertedIDs = append(res.InsertedIDs, d[IDField])
	}
	return res, nil
}

type lockedRow struct {
	id  string
	doc Document
}

func (p *Postgres) update(ctx context.Context, db, coll string, filter, update Document, opts UpdateOptions, many, replace bool) (*UpdateResult, error) {
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
	if opts.Upsert {
		if err := p.ensureTable(ctx, p.db, db, coll); err != nil {
			return nil, err
		}
	}

	a := &sqlArgs{}
	where, err := compileFilter(f, a)
	if err != nil {
		return nil, err
	}
	table := tableName(db, coll)
	query := "SELECT id, doc FROM " + table + " WHERE " + where + " ORDER BY seq"
	if !many {
		query += " LIMIT 1"
	}
	query += " FOR UPDATE"

	res := &UpdateResult{}
	err = dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rows, err := tx.QueryContext(ctx, query, a.args...)
		if err != nil {
			return err
		}
		var locked []lockedRow
		for rows.Next() {
			var r lockedRow
			var raw []byte
			if err := rows.Scan(&r.id, &raw); err != nil {
				rows.Close()
				return err
			}
			if r.doc, err = DecodeDocument(raw); err != nil {
				rows.Close()
				return err
			}
			locked = append(locked, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, r := range locked {
			res.MatchedCount++
			out, changed, err := applyWrite(r.doc, update, replace, false, opts.Timestamp)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			raw, err := json.Marshal(out)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "UPDATE "+table+" SET doc = $1::jsonb WHERE id = $2", string(raw), r.id); err != nil {
				return err
			}
			res.ModifiedCount++
		}

		if res.MatchedCount > 0 || !opts.Upsert {
			return nil
		}
		out, _, err := applyWrite(upsertSeed(f), update, replace, true, opts.Timestamp)
		if err != nil {
			return err
		}
		if replace {
			if id, ok := f[IDField]; ok && !isOperatorExpr(id) {
				out[IDField] = id
			}
		}
		if out, err = prepareInsert(out, false); err != nil {
			return err
		}
		if err := insertRow(ctx, tx, table, out); err != nil {
			return err
		}
		res.UpsertedID = out[IDField]
		return nil
	})
	if err != nil {
		if dbx.IsUndefinedTable(err) {
			return &UpdateResult{}, nil
		}
		var ce *common.Error
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return res, nil
}

func (p *Postgres) UpdateOne(ctx context.Context, db, coll string, filter, update Document, opts UpdateOptions) (*UpdateResult, error) {
	return p.update(ctx, db, coll, filter, update, opts, false, false)
}

func (p *Postgres) UpdateMany(ctx context.Context, db, coll string, filter, update Document, opts UpdateOptions) (*UpdateResult, error) {
	return p.update(ctx, db, coll, filter, update, opts, true, false)
}

func (p *Postgres) ReplaceOne(ctx context.Context, db, coll string, filter, replacement Document, opts UpdateOptions) (*UpdateResult, error) {
	return p.update(ctx, db, coll, filter, replacement, opts, false, true)
}

func sqlWindow(a *sqlArgs, skip, limit int64) string {
	var s string
	if skip > 0 {
		s += " OFFSET " + a.add(skip)
	}
	if limit > 0 {
		s += " LIMIT " + a.add(limit)
	}
	return s
}

func (p *Postgres) Find(ctx context.Context, db, coll string, filter Document, opts FindOptions) ([]Document, error) {
	if err := validateNames(db, coll); err != nil {
		return nil, err
	}
	if _, err := validateProjection(opts.Projection); err != nil {
		return nil, err
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	a := &sqlArgs{}
	where, err := compileFilter(f, a)
	if err != nil {
		return nil, err
	}
	query := "SELECT doc FROM " + tableName(db, coll) + " WHERE " + where +
		" ORDER BY " + compileSort(opts.Sort, a) + sqlWindow(a, opts.Skip, opts.Limit)

	rows, err := p.db.QueryContext(ctx, query, a.args...)
	if dbx.IsUndefinedTable(err) {
		return []Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	docs, err := scanDocs(rows)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, project(d, opts.Projection))
	}
	return out, nil
}

func (p *Postgres) FindOne(ctx context.Context, db, coll string, filter Document, opts FindOptions) (Document, error) {
	opts.Limit = 1
	docs, err := p.Find(ctx, db, coll, filter, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	return docs[0], nil
}

func (p *Postgres) Count(ctx context.Context, db, coll string, filter Document, opts CountOptions) (int64, error) {
	if err := validateNames(db, coll); err != nil {
		return 0, err
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return 0, err
	}
	a := &sqlArgs{}
	where, err := compileFilter(f, a)
	if err != nil {
		return 0, err
	}
	query := "SELECT count(*) FROM (SELECT 1 FROM " + tableName(db, coll) + " WHERE " + where +
		" ORDER BY seq" + sqlWindow(a, opts.Skip, opts.Limit) + ") AS matched"

	var n int64
	err = p.db.QueryRowContext(ctx, query, a.args...).Scan(&n)
	if dbx.IsUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (p *Postgres) delete(ctx context.Context, db, coll string, filter Document, many bool) (int64, error) {
	if err := validateNames(db, coll); err != nil {
		return 0, err
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return 0, err
	}
	a := &sqlArgs{}
	where, err := compileFilter(f, a)
	if err != nil {
		return 0, err
	}
	table := tableName(db, coll)
	query := "DELETE FROM " + table + " WHERE " + where
	if !many {
		query = "DELETE FROM " + table + " WHERE id = (SELECT id FROM " + table + " WHERE " + where + " ORDER BY seq LIMIT 1)"
	}

	r, err := p.db.ExecContext(ctx, query, a.args...)
	if dbx.IsUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return r.RowsAffected()
}

func (p *Postgres) DeleteOne(ctx context.Context, db, coll string, filter Document) (int64, error) {
	return p.delete(ctx, db, coll, filter, false)
}

func (p *Postgres) DeleteMany(ctx context.Context, db, coll string, filter Document) (int64, error) {
	return p.delete(ctx, db, coll, filter, true)
}

func (p *Postgres) Distinct(ctx context.Context, db, coll, field string, filter Document) ([]any, error) {
	docs, err := p.Find(ctx, db, coll, filter, FindOptions{})
	if err != nil {
		return nil, err
	}
	return distinctValues(docs, field), nil
}

func (p *Postgres) CreateCollection(ctx context.Context, db, coll string) error {
	if err := validateNames(db, coll); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schemaName(db)); err != nil && !dbx.IsUniqueViolation(err) {
		return fmt.Errorf("db error: %w", err)
	}
	t := tableName(db, coll)
	_, err := p.db.ExecContext(ctx, "CREATE TABLE "+t+" (id TEXT PRIMARY KEY, doc JSONB NOT NULL, seq BIGSERIAL)")
	if dbx.IsDuplicateTable(err) {
		return common.AlreadyExists("collection %s already exists", coll)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	p.ensured.Store(t, struct{}{})
	return nil
}

func (p *Postgres) DropCollection(ctx context.Context, db, coll string) error {
	if err := validateNames(db, coll); err != nil {
		return err
	}
	t := tableName(db, coll)
	p.ensured.Delete(t)
	if _, err := p.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *Postgres) ListCollections(ctx context.Context, db string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = $1 ORDER BY tablename", db)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return names, nil
}

func (p *Postgres) DropDatabase(ctx context.Context, db string) error {
	if err := ValidateName("database", db); err != nil {
		return err
	}
	p.forget(db)
	if _, err := p.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schemaName(db)+" CASCADE"); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (p *Postgres) DatabaseSize(ctx context.Context, db string) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(pg_total_relation_size(format('%I.%I', schemaname, tablename)::regclass)), 0)::bigint "+
			"FROM pg_catalog.pg_tables WHERE schemaname = $1", db).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (p *Postgres) Dump(ctx context.Context, db string, w io.Writer) error {
	names, err := p.ListCollections(ctx, db)
	if err != nil {
		return err
	}
	enc := newDumpWriter(w)
	for _, name := range names {
		if err := p.dumpCollection(ctx, enc, db, name); err != nil {
			return err
		}
	}
	return enc.flush()
}

func (p *Postgres) dumpCollection(ctx context.Context, enc *dumpWriter, db, coll string) error {
	rows, err := p.db.QueryContext(ctx, "SELECT doc FROM "+tableName(db, coll)+" ORDER BY seq")
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if err := enc.writeRaw(coll, json.RawMessage(raw)); err != nil {
			return err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return enc.writeCollection(coll, nil)
	}
	return nil
}

func (p *Postgres) Restore(ctx context.Context, db string, r io.Reader) error {
	if err := ValidateName("database", db); err != nil {
		return err
	}
	p.forget(db)
	err := dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schemaName(db)+" CASCADE"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "CREATE SCHEMA "+schemaName(db)); err != nil {
			return err
		}
		created := map[string]bool{}
		return readDump(r, func(coll string, doc Document) error {
			t := tableName(db, coll)
			if !created[t] {
				if _, err := tx.ExecContext(ctx, "CREATE TABLE "+t+" (id TEXT PRIMARY KEY, doc JSONB NOT NULL, seq BIGSERIAL)"); err != nil {
					return err
				}
				created[t] = true
			}
			if doc == nil {
				return nil
			}
			if _, ok := doc[IDField]; !ok {
				return common.InvalidParameter("dump document in %s has no _id", coll)
			}
			return insertRow(ctx, tx, t, doc)
		})
	})
	p.forget(db)
	if err != nil {
		var ce *common.Error
		if errors.As(err, &ce) {
			return err
		}
		return fmt.Errorf("restore %s: %w", db, err)
	}
	return nil
}
