package authregister

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestSaveNonce(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+auth_register\s*\(app_instance_did,\s*nonce,\s*nonce_expires_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*ON\s+CONFLICT\s*\(app_instance_did\)\s*DO\s+UPDATE`
	mock.ExpectExec(q).WithArgs("did:inst", "n1", int64(100)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("did:inst", "n2", int64(200)).WillReturnError(errors.New("db down"))

	if err := repo.SaveNonce(context.Background(), "did:inst", "n1", 100); err != nil {
		t.Fatalf("SaveNonce error: %v", err)
	}
	err := repo.SaveNonce(context.Background(), "did:inst", "n2", 200)
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByNonce(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+app_instance_did,.*FROM\s+auth_register\s+WHERE\s+nonce\s*=\s*\$1\s*$`
	cols := []string{"app_instance_did", "nonce", "nonce_expires_at", "user_did", "app_did", "token", "token_expires_at", "created_at", "updated_at"}
	mock.ExpectQuery(q).WithArgs("n1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("did:inst", "n1", int64(100), "", "", "", int64(0), int64(1), int64(1)))
	mock.ExpectQuery(q).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	row, err := repo.GetByNonce(context.Background(), "n1")
	if err != nil {
		t.Fatalf("GetByNonce error: %v", err)
	}
	if row.AppInstanceDID != "did:inst" || row.NonceExpiresAt != 100 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if _, err := repo.GetByNonce(context.Background(), "nope"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestSaveToken(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+auth_register\s+SET\s+user_did\s*=\s*\$2,\s*app_did\s*=\s*\$3,\s*token\s*=\s*\$4,\s*token_expires_at\s*=\s*\$5,.*WHERE\s+app_instance_did\s*=\s*\$1\s*$`
	mock.ExpectExec(q).WithArgs("did:inst", "did:user", "did:app", "jwt", int64(500)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.SaveToken(context.Background(), "did:inst", "did:user", "did:app", "jwt", 500); err != nil {
		t.Fatalf("SaveToken error: %v", err)
	}
	if err := repo.SaveToken(context.Background(), "ghost", "u", "a", "t", 1); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^DELETE FROM auth_register WHERE nonce_expires_at < \$1 AND token_expires_at < \$1$`).
		WithArgs(int64(1000)).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.PurgeExpired(context.Background(), 1000)
	if err != nil || n != 3 {
		t.Fatalf("PurgeExpired = %d, %v", n, err)
	}
}
