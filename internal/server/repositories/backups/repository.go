package backups

import (
	"context"

	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

// Repository keeps the client-side backup row of each vault.
type Repository interface {
	Get(ctx context.Context, userDID string) (*models.Backup, error)
	// Start upserts b as processing unless the current row is processing
	// and force is false; started reports whether the row was written.
	// The state and progress of b are ignored.
	Start(ctx context.Context, b *models.Backup, force bool) (started bool, err error)
	UpdateState(ctx context.Context, userDID, state, progressMsg string) error
	ListByState(ctx context.Context, state string) ([]models.Backup, error)
	Delete(ctx context.Context, userDID string) error
}
