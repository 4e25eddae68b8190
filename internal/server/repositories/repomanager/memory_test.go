package repomanager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/dbx"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

func TestMemoryRepositoryManager(t *testing.T) {
	ctx := context.Background()
	var m RepositoryManager = NewMemoryRepositoryManager()

	require.NoError(t, m.RunMigrations(ctx))
	assert.Nil(t, m.DB())

	err := m.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return m.Vaults(tx).Create(ctx, &models.Vault{UserDID: "u", PlanName: "Free", QuotaBytes: 10, EndsAt: -1})
	})
	require.NoError(t, err)

	// repositories are shared across handles
	v, err := m.Vaults(m.DB()).Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "Free", v.PlanName)

	boom := errors.New("boom")
	assert.ErrorIs(t, m.WithTx(ctx, func(context.Context, dbx.DBTX) error { return boom }), boom)
}
