package backups

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

var backupColumns = []string{"user_did", "action", "state", "progress_msg", "target_host", "target_did", "target_token", "created_at", "updated_at"}

func TestStart(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+backups\s*\(.*\)\s*VALUES\s*\(\$1,\s*\$2,\s*'process',\s*'0',.*\$5\)\s*ON\s+CONFLICT\s*\(user_did\)\s*DO\s+UPDATE.*WHERE\s+backups\.state\s*<>\s*'process'\s+OR\s+\$6\s*$`
	b := &models.Backup{UserDID: "u", Action: models.BackupActionBackup, State: models.BackupStateStop,
		TargetHost: "http://b", TargetDID: "did:b", TargetToken: "tok"}
	mock.ExpectExec(q).WithArgs("u", "backup", "http://b", "did:b", "tok", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("u", "backup", "http://b", "did:b", "tok", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	started, err := repo.Start(context.Background(), b, false)
	if err != nil || !started {
		t.Fatalf("Start = %v, %v", started, err)
	}
	started, err = repo.Start(context.Background(), b, false)
	if err != nil || started {
		t.Fatalf("Start while processing = %v, %v", started, err)
	}
}

func TestGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+user_did,\s*action,.*FROM\s+backups\s+WHERE\s+user_did\s*=\s*\$1\s*$`
	mock.ExpectQuery(q).WithArgs("u").
		WillReturnRows(sqlmock.NewRows(backupColumns).AddRow("u", "restore", "process", "40", "h", "d", "t", int64(1), int64(2)))
	mock.ExpectQuery(q).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	b, err := repo.Get(context.Background(), "u")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if b.Action != models.BackupActionRestore || b.ProgressMsg != "40" {
		t.Fatalf("unexpected backup: %+v", b)
	}
	_, err = repo.Get(context.Background(), "ghost")
	if common.CodeOf(err) != common.CodeBackupNotFound {
		t.Fatalf("want backup not found, got %v", err)
	}
}

func TestUpdateState(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+backups\s+SET\s+state\s*=\s*\$2,\s*progress_msg\s*=\s*\$3,.*WHERE\s+user_did\s*=\s*\$1\s*$`
	mock.ExpectExec(q).WithArgs("u", "failed", "boom").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("u", "success", "").WillReturnError(errors.New("db down"))

	if err := repo.UpdateState(context.Background(), "u", models.BackupStateFailed, "boom"); err != nil {
		t.Fatalf("UpdateState error: %v", err)
	}
	err := repo.UpdateState(context.Background(), "u", models.BackupStateSuccess, "")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestListByStateAndDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+backups\s+WHERE\s+state\s*=\s*\$1\s+ORDER\s+BY\s+updated_at\s*$`).WithArgs("process").
		WillReturnRows(sqlmock.NewRows(backupColumns).
			AddRow("u1", "backup", "process", "25", "h", "d", "t", int64(1), int64(2)).
			AddRow("u2", "restore", "process", "60", "h", "d", "t", int64(1), int64(3)))
	mock.ExpectExec(`^DELETE FROM backups WHERE user_did = \$1$`).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))

	list, err := repo.ListByState(context.Background(), models.BackupStateProcess)
	if err != nil || len(list) != 2 || list[1].UserDID != "u2" {
		t.Fatalf("ListByState = %+v, %v", list, err)
	}
	if err := repo.Delete(context.Background(), "u1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
}
