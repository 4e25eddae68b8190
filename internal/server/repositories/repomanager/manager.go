package repomanager

import (
	"context"

	"github.com/dmitrijs2005/hivenode/internal/dbx"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/applications"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/authregister"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/backups"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/backupservices"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/cidrefs"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/vaults"
)

// RepositoryManager vends repositories bound to a handle. Services pass
// DB() for single statements and the tx given by WithTx for atomic groups.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	DB() dbx.DBTX
	WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error

	Vaults(db dbx.DBTX) vaults.Repository
	Applications(db dbx.DBTX) applications.Repository
	CidRefs(db dbx.DBTX) cidrefs.Repository
	AuthRegister(db dbx.DBTX) authregister.Repository
	Backups(db dbx.DBTX) backups.Repository
	BackupServices(db dbx.DBTX) backupservices.Repository
}
