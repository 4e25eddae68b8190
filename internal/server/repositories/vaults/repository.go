package vaults

import (
	"context"

	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

// Repository persists vault rows. Counters are changed through dedicated
// methods so concurrent requests never overwrite each other's deltas.
type Repository interface {
	Create(ctx context.Context, v *models.Vault) error
	Get(ctx context.Context, userDID string) (*models.Vault, error)
	// Update writes the plan, quota, period, state and promotion flag.
	Update(ctx context.Context, v *models.Vault) error
	SetState(ctx context.Context, userDID, state string) error
	// AddFilesUsed moves the files counter by delta, never below zero.
	AddFilesUsed(ctx context.Context, userDID string, delta int64) error
	SetFilesUsed(ctx context.Context, userDID string, n int64) error
	SetDBUsed(ctx context.Context, userDID string, n int64) error
	TouchAccess(ctx context.Context, userDID string, at int64) error
	Delete(ctx context.Context, userDID string) error
	// CountActive counts vaults that are not removed.
	CountActive(ctx context.Context) (int64, error)
}
