package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/hivenode/internal/dbx"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/applications"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/authregister"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/backups"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/backupservices"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/cidrefs"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/vaults"
)

// MemoryRepositoryManager hands out process-local repositories. The db
// argument is ignored; WithTx serializes callers instead of isolating them,
// so fn must not call WithTx again.
type MemoryRepositoryManager struct {
	txMu sync.Mutex

	vaults         *vaults.MemoryRepository
	applications   *applications.MemoryRepository
	cidRefs        *cidrefs.MemoryRepository
	authRegister   *authregister.MemoryRepository
	backups        *backups.MemoryRepository
	backupServices *backupservices.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		vaults:         vaults.NewMemoryRepository(),
		applications:   applications.NewMemoryRepository(),
		cidRefs:        cidrefs.NewMemoryRepository(),
		authRegister:   authregister.NewMemoryRepository(),
		backups:        backups.NewMemoryRepository(),
		backupServices: backupservices.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *MemoryRepositoryManager) DB() dbx.DBTX { return nil }

func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx, nil)
}

func (m *MemoryRepositoryManager) Vaults(dbx.DBTX) vaults.Repository { return m.vaults }

func (m *MemoryRepositoryManager) Applications(dbx.DBTX) applications.Repository {
	return m.applications
}

func (m *MemoryRepositoryManager) CidRefs(dbx.DBTX) cidrefs.Repository { return m.cidRefs }

func (m *MemoryRepositoryManager) AuthRegister(dbx.DBTX) authregister.Repository {
	return m.authRegister
}

func (m *MemoryRepositoryManager) Backups(dbx.DBTX) backups.Repository { return m.backups }

func (m *MemoryRepositoryManager) BackupServices(dbx.DBTX) backupservices.Repository {
	return m.backupServices
}
