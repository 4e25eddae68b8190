package applications

import (
	"context"

	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

type Repository interface {
	// Ensure inserts the row unless it exists and reports whether it did.
	Ensure(ctx context.Context, app *models.Application) (bool, error)
	Get(ctx context.Context, userDID, appDID string) (*models.Application, error)
	List(ctx context.Context, userDID string) ([]models.Application, error)
	RecordAccess(ctx context.Context, userDID, appDID string, count, amount, at int64) error
	DeleteAll(ctx context.Context, userDID string) error
}
