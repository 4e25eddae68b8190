package authregister

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

func (r *PostgresRepository) SaveNonce(ctx context.Context, appInstanceDID, nonce string, expiresAt int64) error {
	query :=
		`INSERT INTO auth_register (app_instance_did, nonce, nonce_expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (app_instance_did) DO UPDATE
		 SET nonce = EXCLUDED.nonce, nonce_expires_at = EXCLUDED.nonce_expires_at,
		     updated_at = extract(epoch FROM now())::bigint
		 `

	_, err := r.db.ExecContext(ctx, query, appInstanceDID, nonce, expiresAt)
	if dbx.IsUniqueViolation(err) {
		return common.AlreadyExists("nonce already in use")
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByNonce(ctx context.Context, nonce string) (*models.AuthRegister, error) {
	query :=
		`SELECT app_instance_did, nonce, nonce_expires_at, user_did, app_did, token, token_expires_at,
		        created_at, updated_at
		 FROM auth_register
		 WHERE nonce = $1
		 `

	a := &models.AuthRegister{}
	err := r.db.QueryRowContext(ctx, query, nonce).Scan(&a.AppInstanceDID, &a.Nonce, &a.NonceExpiresAt,
		&a.UserDID, &a.AppDID, &a.Token, &a.TokenExpiresAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) SaveToken(ctx context.Context, appInstanceDID, userDID, appDID, token string, expiresAt int64) error {
	query :=
		`UPDATE auth_register
		 SET user_did = $2, app_did = $3, token = $4, token_expires_at = $5,
		     updated_at = extract(epoch FROM now())::bigint
		 WHERE app_instance_did = $1
		 `

	res, err := r.db.ExecContext(ctx, query, appInstanceDID, userDID, appDID, token, expiresAt)
	return dbx.Affected(res, err, common.ErrorNotFound)
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, now int64) (int64, error) {
	query := `DELETE FROM auth_register WHERE nonce_expires_at < $1 AND token_expires_at < $1`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
