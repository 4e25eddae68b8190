package backup

import (
	"context"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

// Promote turns the last backup of userDID on this node into a live vault.
// The blobs are already pinned by the backup, so only references are
// taken.
func (s *Service) Promote(ctx context.Context, userDID string) error {
	row, err := s.lastBackup(ctx, userDID)
	if err != nil {
		return err
	}
	m, err := s.openStored(ctx, heldOf(row))
	if err != nil {
		return err
	}
	if m.UserDID != userDID {
		return common.InvalidParameter("manifest belongs to %s", m.UserDID)
	}
	free := s.plans.FreeVaultPlan()
	if m.VaultSize > int64(free.MaxStorage) {
		return common.InsufficientStorage("backup of %d bytes exceeds the vault quota of %d", m.VaultSize, int64(free.MaxStorage))
	}
	if _, err := s.vaults.CreateForPromotion(ctx, userDID); err != nil {
		return err
	}
	if err := s.importManifest(ctx, userDID, m, false, func(int) error { return nil }); err != nil {
		return err
	}
	s.observe(RoleServer, "promotion", models.BackupStateSuccess)
	s.log.Info(ctx, "backup promoted", "user_did", userDID, "vault_size", m.VaultSize)
	return nil
}

// Recover restarts the executors of every backup row left processing by a
// previous run.
func (s *Service) Recover(ctx context.Context) error {
	rows, err := s.m.Backups(s.m.DB()).ListByState(ctx, models.BackupStateProcess)
	if err != nil {
		return err
	}
	for i := range rows {
		row := &rows[i]
		switch row.Action {
		case models.BackupActionBackup, models.BackupActionRestore:
			s.log.Info(ctx, "resuming backup client", "user_did", row.UserDID, "action", row.Action)
			s.runClient(row, true)
		default:
			s.log.Warn(ctx, "skipping backup row with unknown action", "user_did", row.UserDID, "action", row.Action)
		}
	}

	services, err := s.m.BackupServices(s.m.DB()).ListByState(ctx, models.BackupStateProcess)
	if err != nil {
		return err
	}
	for _, row := range services {
		if row.Action != models.BackupActionBackup {
			s.log.Warn(ctx, "skipping backup service row with unknown action", "user_did", row.UserDID, "action", row.Action)
			continue
		}
		s.log.Info(ctx, "resuming backup server", "user_did", row.UserDID)
		s.runServer(row.UserDID, descriptorOf(&row))
	}
	return nil
}
