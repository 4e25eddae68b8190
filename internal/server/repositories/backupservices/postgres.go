package backupservices

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
	return common.NotFound(common.CodeBackupNotFound, "backup service of %s not found", userDID)
}

const selectColumns = `SELECT user_did, plan_name, quota_bytes, used_bytes, started_at, ends_at, action, state, progress_msg,
		        req_cid, req_sha256, req_size, req_public_key, held_cid, held_sha256, held_size, held_public_key,
		        created_at, updated_at
		 FROM backup_services`

type scanner interface {
	Scan(dest ...any) error
}

func scanService(s scanner) (*models.BackupService, error) {
	b := &models.BackupService{}
	err := s.Scan(&b.UserDID, &b.PlanName, &b.QuotaBytes, &b.UsedBytes, &b.StartedAt, &b.EndsAt,
		&b.Action, &b.State, &b.ProgressMsg, &b.ReqCID, &b.ReqSHA256, &b.ReqSize, &b.ReqPublicKey,
		&b.HeldCID, &b.HeldSHA256, &b.HeldSize, &b.HeldPublicKey, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.BackupService) error {
	query :=
		`INSERT INTO backup_services (user_did, plan_name, quota_bytes, started_at, ends_at)
		 VALUES ($1, $2, $3, $4, $5)
		 `

	_, err := r.db.ExecContext(ctx, query, s.UserDID, s.PlanName, s.QuotaBytes, s.StartedAt, s.EndsAt)
	if dbx.IsUniqueViolation(err) {
		return common.AlreadyExists("backup service of %s already exists", s.UserDID)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userDID string) (*models.BackupService, error) {
	query := selectColumns + `
		 WHERE user_did = $1
		 `

	s, err := scanService(r.db.QueryRowContext(ctx, query, userDID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(userDID)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) UpdatePlan(ctx context.Context, userDID, plan string, quota, startedAt, endsAt int64) error {
	query :=
		`UPDATE backup_services
		 SET plan_name = $2, quota_bytes = $3, started_at = $4, ends_at = $5,
		     updated_at = extract(epoch FROM now())::bigint
		 WHERE user_did = $1
		 `

	res, err := r.db.ExecContext(ctx, query, userDID, plan, quota, startedAt, endsAt)
	return dbx.Affected(res, err, notFound(userDID))
}

func (r *PostgresRepository) StartRequest(ctx context.Context, s *models.BackupService, force bool) (bool, error) {
	query :=
		`UPDATE backup_services
		 SET action = $2, state = $3, progress_msg = $4, req_cid = $5, req_sha256 = $6, req_size = $7,
		     req_public_key = $8, updated_at = extract(epoch FROM now())::bigint
		 WHERE user_did = $1 AND (state <> 'process' OR $9)
		 `

	res, err := r.db.ExecContext(ctx, query, s.UserDID, s.Action, s.State, s.ProgressMsg,
		s.ReqCID, s.ReqSHA256, s.ReqSize, s.ReqPublicKey, force)
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
		`UPDATE backup_services SET state = $2, progress_msg = $3, updated_at = extract(epoch FROM now())::bigint
		 WHERE user_did = $1
		 `

	res, err := r.db.ExecContext(ctx, query, userDID, state, progressMsg)
	return dbx.Affected(res, err, notFound(userDID))
}

func (r *PostgresRepository) Complete(ctx context.Context, userDID, reqCID string, used int64) error {
	query :=
		`UPDATE backup_services
		 SET held_cid = req_cid, held_sha256 = req_sha256, held_size = req_size, held_public_key = req_public_key,
		     used_bytes = $3, state = 'success', progress_msg = '100', updated_at = extract(epoch FROM now())::bigint
		 WHERE user_did = $1 AND req_cid = $2 AND held_cid <> $2
		 `

	res, err := r.db.ExecContext(ctx, query, userDID, reqCID, used)
	return dbx.Affected(res, err, requestNotFound(userDID, reqCID))
}

func requestNotFound(userDID, reqCID string) error {
	return common.NotFound(common.CodeBackupNotFound, "backup request %s of %s not found", reqCID, userDID)
}

func (r *PostgresRepository) ListByState(ctx context.Context, state string) ([]models.BackupService, error) {
	query := selectColumns + `
		 WHERE state = $1
		 ORDER BY updated_at
		 `

	rows, err := r.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.BackupService
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userDID string) error {
	query := `DELETE FROM backup_services WHERE user_did = $1`

	if _, err := r.db.ExecContext(ctx, query, userDID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
