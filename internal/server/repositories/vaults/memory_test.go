package vaults

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/server/models"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	var _ Repository = r

	require.NoError(t, r.Create(ctx, &models.Vault{UserDID: "u", PlanName: "Free", QuotaBytes: 100, EndsAt: -1, State: models.VaultStateRunning}))
	assert.ErrorIs(t, r.Create(ctx, &models.Vault{UserDID: "u"}), common.ErrorAlreadyExists)

	require.NoError(t, r.AddFilesUsed(ctx, "u", 30))
	require.NoError(t, r.AddFilesUsed(ctx, "u", -50))
	v, err := r.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.FilesUsedBytes, "counter never goes negative")

	require.NoError(t, r.SetFilesUsed(ctx, "u", 40))
	require.NoError(t, r.SetDBUsed(ctx, "u", 2))
	require.NoError(t, r.TouchAccess(ctx, "u", 77))
	v, err = r.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.UsedBytes())
	assert.Equal(t, int64(77), v.LastAccessAt)

	v.PlanName, v.QuotaBytes, v.EndsAt = "Rookie", 1000, 500
	require.NoError(t, r.Update(ctx, v))
	got, err := r.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "Rookie", got.PlanName)
	assert.Equal(t, int64(40), got.FilesUsedBytes, "update leaves counters alone")

	// returned rows are copies
	got.QuotaBytes = 1
	again, _ := r.Get(ctx, "u")
	assert.Equal(t, int64(1000), again.QuotaBytes)

	n, err := r.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, r.SetState(ctx, "u", models.VaultStateRemoved))
	n, _ = r.CountActive(ctx)
	assert.Equal(t, int64(0), n)

	require.NoError(t, r.Delete(ctx, "u"))
	_, err = r.Get(ctx, "u")
	assert.Equal(t, common.CodeVaultNotFound, common.CodeOf(err))
	assert.ErrorIs(t, r.SetState(ctx, "u", "running"), common.ErrorNotFound)
	assert.ErrorIs(t, r.Delete(ctx, "u"), common.ErrorNotFound)
}
