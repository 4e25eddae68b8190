package applications

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

func notFound(userDID, appDID string) error {
	return common.NotFound(common.CodeApplicationNotFound, "application %s of %s not found", appDID, userDID)
}

func (r *PostgresRepository) Ensure(ctx context.Context, app *models.Application) (bool, error) {
	query :=
		`INSERT INTO applications (user_did, app_did, database_name, state)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_did, app_did) DO NOTHING
		 `

	res, err := r.db.ExecContext(ctx, query, app.UserDID, app.AppDID, app.DatabaseName, app.State)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

const selectColumns = `SELECT user_did, app_did, database_name, access_count, access_amount, access_last_at, state, created_at
		 FROM applications`

type scanner interface {
	Scan(dest ...any) error
}

func scanApp(s scanner) (*models.Application, error) {
	a := &models.Application{}
	err := s.Scan(&a.UserDID, &a.AppDID, &a.DatabaseName, &a.AccessCount, &a.AccessAmount, &a.AccessLastAt, &a.State, &a.CreatedAt)
	return a, err
}

func (r *PostgresRepository) Get(ctx context.Context, userDID, appDID string) (*models.Application, error) {
	query := selectColumns + `
		 WHERE user_did = $1 AND app_did = $2
		 `

	a, err := scanApp(r.db.QueryRowContext(ctx, query, userDID, appDID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(userDID, appDID)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) List(ctx context.Context, userDID string) ([]models.Application, error) {
	query := selectColumns + `
		 WHERE user_did = $1
		 ORDER BY app_did
		 `

	rows, err := r.db.QueryContext(ctx, query, userDID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Application
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) RecordAccess(ctx context.Context, userDID, appDID string, count, amount, at int64) error {
	query :=
		`UPDATE applications
		 SET access_count = access_count + $3, access_amount = access_amount + $4, access_last_at = $5
		 WHERE user_did = $1 AND app_did = $2
		 `

	res, err := r.db.ExecContext(ctx, query, userDID, appDID, count, amount, at)
	return dbx.Affected(res, err, notFound(userDID, appDID))
}

func (r *PostgresRepository) DeleteAll(ctx context.Context, userDID string) error {
	query := `DELETE FROM applications WHERE user_did = $1`

	if _, err := r.db.ExecContext(ctx, query, userDID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
