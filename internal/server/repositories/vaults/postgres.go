package vaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/dbx"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func notFound(userDID string) error {
	return common.NotFound(common.CodeVaultNotFound, "vault of %s not found", userDID)
}

func (r *PostgresRepository) Create(ctx context.Context, v *models.Vault) error {
	query :=
		`INSERT INTO vaults (user_did, plan_name, quota_bytes, files_used_bytes, db_used_bytes,
		                     started_at, ends_at, state, last_access_at, created_from_promotion)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 `

	_, err := r.db.ExecContext(ctx, query,
		v.UserDID, v.PlanName, v.QuotaBytes, v.FilesUsedBytes, v.DBUsedBytes,
		v.StartedAt, v.EndsAt, v.State, v.LastAccessAt, v.CreatedFromPromotion)
	if dbx.IsUniqueViolation(err) {
		return common.AlreadyExists("vault of %s already exists", v.UserDID)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userDID string) (*models.Vault, error) {
	query :=
		`SELECT user_did, plan_name, quota_bytes, files_used_bytes, db_used_bytes, started_at, ends_at,
		        state, last_access_at, created_from_promotion, created_at, updated_at
		 FROM vaults
		 WHERE user_did = $1
		 `

	v := &models.Vault{}
	err := r.db.QueryRowContext(ctx, query, userDID).Scan(
		&v.UserDID, &v.PlanName, &v.QuotaBytes, &v.FilesUsedBytes, &v.DBUsedBytes, &v.StartedAt, &v.EndsAt,
		&v.State, &v.LastAccessAt, &v.CreatedFromPromotion, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(userDID)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) Update(ctx context.Context, v *models.Vault) error {
	query :=
		`UPDATE vaults
		 SET plan_name = $2, quota_bytes = $3, started_at = $4, ends_at = $5, state = $6,
		     created_from_promotion = $7, updated_at = extract(epoch FROM now())::bigint
		 WHERE user_did = $1
		 `

	res, err := r.db.ExecContext(ctx, query,
		v.UserDID, v.PlanName, v.QuotaBytes, v.StartedAt, v.EndsAt, v.State, v.CreatedFromPromotion)
	return dbx.Affected(res, err, notFound(v.UserDID))
}

func (r *PostgresRepository) SetState(ctx context.Context, userDID, state string) error {
	query :=
		`UPDATE vaults SET state = $2, updated_at = extract(epoch FROM now())::bigint
		 WHERE user_did = $1
		 `

	res, err := r.db.ExecContext(ctx, query, userDID, state)
	return dbx.Affected(res, err, notFound(userDID))
}

func (r *PostgresRepository) AddFilesUsed(ctx context.Context, userDID string, delta int64) error {
	query :=
		`UPDATE vaults SET files_used_bytes = GREATEST(files_used_bytes + $2, 0),
		                   updated_at = extract(epoch FROM now())::bigint
		 WHERE user_did = $1
		 `

	res, err := r.db.ExecContext(ctx, query, userDID, delta)
	return dbx.Affected(res, err, notFound(userDID))
}

func (r *PostgresRepository) SetFilesUsed(ctx context.Context, userDID string, n int64) error {
	query :=
		`UPDATE vaults SET files_used_bytes = $2, updated_at = extract(epoch FROM now())::bigint
		 WHERE user_did = $1
		 `

	res, err := r.db.ExecContext(ctx, query, userDID, n)
	return dbx.Affected(res, err, notFound(userDID))
}

func (r *PostgresRepository) SetDBUsed(ctx context.Context, userDID string, n int64) error {
	query :=
		`UPDATE vaults SET db_used_bytes = $2, updated_at = extract(epoch FROM now())::bigint
		 WHERE user_did = $1
		 `

	res, err := r.db.ExecContext(ctx, query, userDID, n)
	return dbx.Affected(res, err, notFound(userDID))
}

func (r *PostgresRepository) TouchAccess(ctx context.Context, userDID string, at int64) error {
	query := `UPDATE vaults SET last_access_at = $2 WHERE user_did = $1`

	res, err := r.db.ExecContext(ctx, query, userDID, at)
	return dbx.Affected(res, err, notFound(userDID))
}

func (r *PostgresRepository) Delete(ctx context.Context, userDID string) error {
	query := `DELETE FROM vaults WHERE user_did = $1`

	res, err := r.db.ExecContext(ctx, query, userDID)
	return dbx.Affected(res, err, notFound(userDID))
}

func (r *PostgresRepository) CountActive(ctx context.Context) (int64, error) {
	query := `SELECT count(*) FROM vaults WHERE state <> 'removed'`

	var n int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
