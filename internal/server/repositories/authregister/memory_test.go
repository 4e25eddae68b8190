package authregister

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	var _ Repository = r

	require.NoError(t, r.SaveNonce(ctx, "inst1", "n1", 100))
	require.NoError(t, r.SaveNonce(ctx, "inst1", "n2", 200), "sign-in again replaces the nonce")
	_, err := r.GetByNonce(ctx, "n1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, r.SaveNonce(ctx, "inst2", "n2", 200), common.ErrorAlreadyExists)

	row, err := r.GetByNonce(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, "inst1", row.AppInstanceDID)

	require.NoError(t, r.SaveToken(ctx, "inst1", "user", "app", "tok", 1000))
	assert.ErrorIs(t, r.SaveToken(ctx, "inst9", "user", "app", "tok", 1000), common.ErrorNotFound)
	require.NoError(t, r.SaveNonce(ctx, "inst3", "n3", 50))

	n, err := r.PurgeExpired(ctx, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only inst3 has nothing left alive")
	row, err = r.GetByNonce(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, "tok", row.Token)
}
