package backups

import (
	"context"
	"sync"
	"sync/atomic"
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

	_, err := r.Get(ctx, "u")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	b := &models.Backup{UserDID: "u", Action: models.BackupActionBackup, State: models.BackupStateProcess}
	started, err := r.Start(ctx, b, false)
	require.NoError(t, err)
	assert.True(t, started)

	restore := &models.Backup{UserDID: "u", Action: models.BackupActionRestore, State: models.BackupStateStop}
	started, err = r.Start(ctx, restore, false)
	require.NoError(t, err)
	assert.False(t, started, "a processing row is not replaced")

	list, _ := r.ListByState(ctx, models.BackupStateProcess)
	assert.Len(t, list, 1)

	r.rows["s"] = models.Backup{UserDID: "s", State: models.BackupStateStop}
	stopped := &models.Backup{UserDID: "s", Action: models.BackupActionBackup, State: models.BackupStateStop}
	started, err = r.Start(ctx, stopped, false)
	require.NoError(t, err)
	require.True(t, started)
	got, err := r.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, models.BackupStateProcess, got.State, "a started row is processing at once")
	assert.Equal(t, "0", got.ProgressMsg)
	require.NoError(t, r.Delete(ctx, "s"))

	started, err = r.Start(ctx, restore, true)
	require.NoError(t, err)
	assert.True(t, started, "force replaces a processing row")

	require.NoError(t, r.UpdateState(ctx, "u", models.BackupStateFailed, "peer gone"))
	got, err = r.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, models.BackupActionRestore, got.Action)
	assert.Equal(t, "peer gone", got.ProgressMsg)

	list, _ = r.ListByState(ctx, models.BackupStateProcess)
	assert.Empty(t, list)

	require.NoError(t, r.Delete(ctx, "u"))
	assert.ErrorIs(t, r.UpdateState(ctx, "u", "stop", ""), common.ErrorNotFound)
}

func TestMemoryRepository_ConcurrentStart(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	const n = 16
	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started, err := r.Start(ctx, &models.Backup{UserDID: "u", Action: models.BackupActionBackup}, false)
			assert.NoError(t, err)
			if started {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load(), "exactly one start claims the row")
}
