package applications

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

	for _, app := range []string{"b", "a"} {
		created, err := r.Ensure(ctx, &models.Application{UserDID: "u", AppDID: app, DatabaseName: "db_" + app, State: models.AppStateNormal})
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err := r.Ensure(ctx, &models.Application{UserDID: "u", AppDID: "a", DatabaseName: "other"})
	require.NoError(t, err)
	assert.False(t, created)
	_, _ = r.Ensure(ctx, &models.Application{UserDID: "v", AppDID: "a"})

	apps, err := r.List(ctx, "u")
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "a", apps[0].AppDID)
	assert.Equal(t, "db_a", apps[0].DatabaseName, "ensure keeps the first row")

	require.NoError(t, r.RecordAccess(ctx, "u", "a", 1, 10, 5))
	require.NoError(t, r.RecordAccess(ctx, "u", "a", 1, 20, 6))
	a, err := r.Get(ctx, "u", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.AccessCount)
	assert.Equal(t, int64(30), a.AccessAmount)
	assert.Equal(t, int64(6), a.AccessLastAt)

	assert.ErrorIs(t, r.RecordAccess(ctx, "u", "zzz", 1, 1, 1), common.ErrorNotFound)

	require.NoError(t, r.DeleteAll(ctx, "u"))
	apps, _ = r.List(ctx, "u")
	assert.Empty(t, apps)
	_, err = r.Get(ctx, "v", "a")
	assert.NoError(t, err)
}
