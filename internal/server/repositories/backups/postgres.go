package backups

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
	return common.NotFound(common.CodeBackupNotFound, "backup of %s not found", userDID)
}

const selectColumns = `SELECT user_did, action, state, progress_msg, target_host, target_did, target_token, created_at, updated_at
		 FROM backups`

type scanner interface {
	Scan(dest ...any) error
}

func scanBackup(s scanner) (*models.Backup, error) {
	b := &models.Backup{}
	err := s.Scan(&b.UserDID, &b.Action, &b.State, &b.ProgressMsg, &b.TargetHost, &b.TargetDID, &b.TargetToken,
		&b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *PostgresRepository) Get(ctx context.Context, userDID string) (*models.Backup, error) {
	query := selectColumns + `
		 WHERE user_did = $1
		 `

	b, err := scanBackup(r.db.QueryRowContext(ctx, query, userDID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(userDID)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) Start(ctx context.Context, b *models.Backup, force bool) (bool, error) {
	query :=
		`INSERT INTO backups (user_did, action, state, progress_msg, target_host, target_did, target_token)
		 VALUES ($1, $2, 'process', '0', $3, $4, $5)
		 ON CONFLICT (user_did) DO UPDATE
		 SET action = EXCLUDED.action, state = EXCLUDED.state, progress_msg = EXCLUDED.progress_msg,
		     target_host = EXCLUDED.target_host, target_did = EXCLUDED.target_did,
		     target_token = EXCLUDED.target_token, updated_at = extract(epoch FROM now())::bigint
		 WHERE backups.state <> 'process' OR $6
		 `

	res, err := r.db.ExecContext(ctx, query,
		b.UserDID, b.Action, b.TargetHost, b.TargetDID, b.TargetToken, force)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) UpdateState(ctx context.Context, userDID, state, progressMsg string) error {
	query :=
		`UPDATE backups SET state = $2, progress_msg = $3, updated_at = extract(epoch FROM now())::bigint
		 WHERE user_did = $1
		 `

	res, err := r.db.ExecContext(ctx, query, userDID, state, progressMsg)
	return dbx.Affected(res, err, notFound(userDID))
}

func (r *PostgresRepository) ListByState(ctx context.Context, state string) ([]models.Backup, error) {
	query := selectColumns + `
		 WHERE state = $1
		 ORDER BY updated_at
		 `

	rows, err := r.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userDID string) error {
	query := `DELETE FROM backups WHERE user_did = $1`

	if _, err := r.db.ExecContext(ctx, query, userDID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
