package backupservices

import (
	"context"

	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

// Repository keeps the backup subscriptions hosted by this node.
type Repository interface {
	Create(ctx context.Context, s *models.BackupService) error
	Get(ctx context.Context, userDID string) (*models.BackupService, error)
	UpdatePlan(ctx context.Context, userDID, plan string, quota, startedAt, endsAt int64) error
	// StartRequest records a new manifest request unless one is processing
	// and force is false; started reports whether the row was written.
	StartRequest(ctx context.Context, s *models.BackupService, force bool) (started bool, err error)
	UpdateState(ctx context.Context, userDID, state, progressMsg string) error
	// Complete marks the request reqCID successful: it becomes the held
	// manifest and used is recorded. It fails with not found when reqCID
	// is no longer the current request or is already held.
	Complete(ctx context.Context, userDID, reqCID string, used int64) error
	ListByState(ctx context.Context, state string) ([]models.BackupService, error)
	Delete(ctx context.Context, userDID string) error
}
