package authregister

import (
	"context"

	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

type Repository interface {
	// SaveNonce starts (or restarts) the sign-in of an app instance.
	SaveNonce(ctx context.Context, appInstanceDID, nonce string, expiresAt int64) error
	GetByNonce(ctx context.Context, nonce string) (*models.AuthRegister, error)
	SaveToken(ctx context.Context, appInstanceDID, userDID, appDID, token string, expiresAt int64) error
	// PurgeExpired removes rows whose nonce and token both expired before now.
	PurgeExpired(ctx context.Context, now int64) (int64, error)
}
