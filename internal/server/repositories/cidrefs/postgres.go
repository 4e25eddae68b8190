package cidrefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func checkDelta(delta int64) error {
	if delta < 1 {
		return common.InvalidParameter("cid reference delta must be positive, got %d", delta)
	}
	return nil
}

func (r *PostgresRepository) Increase(ctx context.Context, cid string, delta int64) error {
	if err := checkDelta(delta); err != nil {
		return err
	}
	query :=
		`INSERT INTO cid_refs (cid, count) VALUES ($1, $2)
		 ON CONFLICT (cid) DO UPDATE
		 SET count = cid_refs.count + EXCLUDED.count, updated_at = extract(epoch FROM now())::bigint
		 `

	if _, err := r.db.ExecContext(ctx, query, cid, delta); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Decrease(ctx context.Context, cid string, delta int64) (bool, error) {
	if err := checkDelta(delta); err != nil {
		return false, err
	}
	query :=
		`WITH deleted AS (
		     DELETE FROM cid_refs WHERE cid = $1 AND count <= $2 RETURNING cid
		 ), updated AS (
		     UPDATE cid_refs SET count = count - $2, updated_at = extract(epoch FROM now())::bigint
		     WHERE cid = $1 AND count > $2 RETURNING cid
		 )
		 SELECT (SELECT count(*) FROM updated)
		 `

	var updated int64
	if err := r.db.QueryRowContext(ctx, query, cid, delta).Scan(&updated); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return updated == 0, nil
}

func (r *PostgresRepository) Count(ctx context.Context, cid string) (int64, error) {
	query := `SELECT count FROM cid_refs WHERE cid = $1`

	var n int64
	err := r.db.QueryRowContext(ctx, query, cid).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
