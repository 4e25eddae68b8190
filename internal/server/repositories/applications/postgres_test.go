package applications

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var appColumns = []string{"user_did", "app_did", "database_name", "access_count", "access_amount", "access_last_at", "state", "created_at"}

func TestEnsure(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+applications\s*\(user_did,\s*app_did,\s*database_name,\s*state\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s*ON\s+CONFLICT\s*\(user_did,\s*app_did\)\s*DO\s+NOTHING\s*$`
	mock.ExpectExec(q).WithArgs("u", "a", "hive_user_db_x", "normal").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("u", "a", "hive_user_db_x", "normal").WillReturnResult(sqlmock.NewResult(0, 0))

	app := &models.Application{UserDID: "u", AppDID: "a", DatabaseName: "hive_user_db_x", State: models.AppStateNormal}
	created, err := repo.Ensure(context.Background(), app)
	if err != nil || !created {
		t.Fatalf("first Ensure = %v, %v", created, err)
	}
	created, err = repo.Ensure(context.Background(), app)
	if err != nil || created {
		t.Fatalf("second Ensure = %v, %v", created, err)
	}
}

func TestGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+user_did,.*FROM\s+applications\s+WHERE\s+user_did\s*=\s*\$1\s+AND\s+app_did\s*=\s*\$2\s*$`
	mock.ExpectQuery(q).WithArgs("u", "a").
		WillReturnRows(sqlmock.NewRows(appColumns).AddRow("u", "a", "db", int64(3), int64(300), int64(9), "normal", int64(1)))
	mock.ExpectQuery(q).WithArgs("u", "b").WillReturnError(sql.ErrNoRows)

	a, err := repo.Get(context.Background(), "u", "a")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if a.DatabaseName != "db" || a.AccessCount != 3 || a.AccessAmount != 300 {
		t.Fatalf("unexpected app: %+v", a)
	}
	_, err = repo.Get(context.Background(), "u", "b")
	if common.CodeOf(err) != common.CodeApplicationNotFound {
		t.Fatalf("want application not found, got %v", err)
	}
}

func TestList(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+user_did,.*FROM\s+applications\s+WHERE\s+user_did\s*=\s*\$1\s+ORDER\s+BY\s+app_did\s*$`
	mock.ExpectQuery(q).WithArgs("u").
		WillReturnRows(sqlmock.NewRows(appColumns).
			AddRow("u", "a", "db1", int64(0), int64(0), int64(0), "normal", int64(1)).
			AddRow("u", "b", "db2", int64(0), int64(0), int64(0), "normal", int64(1)))

	apps, err := repo.List(context.Background(), "u")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(apps) != 2 || apps[1].DatabaseName != "db2" {
		t.Fatalf("unexpected apps: %+v", apps)
	}
}

func TestList_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+applications`).WithArgs("u").WillReturnError(errors.New("db down"))

	_, err := repo.List(context.Background(), "u")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestRecordAccessAndDeleteAll(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec(`(?s)^UPDATE\s+applications\s+SET\s+access_count\s*=\s*access_count\s*\+\s*\$3,\s*access_amount\s*=\s*access_amount\s*\+\s*\$4,\s*access_last_at\s*=\s*\$5`).
		WithArgs("u", "a", int64(1), int64(128), int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^DELETE FROM applications WHERE user_did = \$1$`).WithArgs("u").
		WillReturnResult(sqlmock.NewResult(0, 4))

	if err := repo.RecordAccess(ctx, "u", "a", 1, 128, 50); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	if err := repo.DeleteAll(ctx, "u"); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
