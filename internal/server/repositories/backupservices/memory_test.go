package backupservices

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

	req := &models.BackupService{UserDID: "u", Action: models.BackupActionBackup, State: models.BackupStateProcess, ReqCID: "bafy"}
	started, err := r.StartRequest(ctx, req, false)
	require.NoError(t, err)
	assert.False(t, started, "no subscription yet")

	require.NoError(t, r.Create(ctx, &models.BackupService{UserDID: "u", PlanName: "Free", QuotaBytes: 100, EndsAt: -1}))
	assert.ErrorIs(t, r.Create(ctx, &models.BackupService{UserDID: "u"}), common.ErrorAlreadyExists)

	started, err = r.StartRequest(ctx, req, false)
	require.NoError(t, err)
	assert.True(t, started)
	started, _ = r.StartRequest(ctx, req, false)
	assert.False(t, started)

	assert.ErrorIs(t, r.Complete(ctx, "u", "bafyother", 42), common.ErrorNotFound, "not the current request")
	require.NoError(t, r.Complete(ctx, "u", "bafy", 42))
	assert.ErrorIs(t, r.Complete(ctx, "u", "bafy", 42), common.ErrorNotFound, "already held")
	require.NoError(t, r.UpdatePlan(ctx, "u", "Rookie", 2000, 5, 6))

	s, err := r.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(42), s.UsedBytes)
	assert.Equal(t, "Rookie", s.PlanName)
	assert.Equal(t, "bafy", s.ReqCID)
	assert.Equal(t, "bafy", s.HeldCID)
	assert.Equal(t, models.BackupStateSuccess, s.State)
	assert.Equal(t, "100", s.ProgressMsg)

	next := &models.BackupService{UserDID: "u", Action: models.BackupActionBackup, State: models.BackupStateProcess, ReqCID: "bafy2"}
	started, err = r.StartRequest(ctx, next, false)
	require.NoError(t, err)
	require.True(t, started)
	require.NoError(t, r.UpdateState(ctx, "u", models.BackupStateFailed, "pin failed"))
	s, err = r.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "bafy", s.HeldCID, "a failed request leaves the held manifest alone")
	require.NoError(t, r.Complete(ctx, "u", "bafy2", 42))

	list, _ := r.ListByState(ctx, models.BackupStateSuccess)
	assert.Len(t, list, 1)

	require.NoError(t, r.Delete(ctx, "u"))
	_, err = r.Get(ctx, "u")
	assert.Equal(t, common.CodeBackupNotFound, common.CodeOf(err))
}
