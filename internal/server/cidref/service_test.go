package cidref

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/dbx"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
)

type recordingUnpinner struct {
	mu   sync.Mutex
	cids []string
	err  error
}

func (r *recordingUnpinner) Unpin(_ context.Context, cid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cids = append(r.cids, cid)
	return r.err
}

func TestIncreaseDecreaseUnpinsOnLastReference(t *testing.T) {
	ctx := context.Background()
	u := &recordingUnpinner{}
	s := NewService(repomanager.NewMemoryRepositoryManager(), u, logging.Nop{})

	require.NoError(t, s.Increase(ctx, "c1", 1))
	require.NoError(t, s.Increase(ctx, "c1", 1))

	removed, err := s.Decrease(ctx, "c1", 1)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, u.cids)

	removed, err = s.Decrease(ctx, "c1", 1)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"c1"}, u.cids)

	n, _ := s.Count(ctx, "c1")
	assert.Zero(t, n)
}

func TestDecreaseUnknownIsRemoved(t *testing.T) {
	u := &recordingUnpinner{err: errors.New("not pinned")}
	s := NewService(repomanager.NewMemoryRepositoryManager(), u, logging.Nop{})

	removed, err := s.Decrease(context.Background(), "ghost", 1)
	require.NoError(t, err, "unpin errors are not fatal")
	assert.True(t, removed)
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	u := &recordingUnpinner{}
	s := NewService(repomanager.NewMemoryRepositoryManager(), u, logging.Nop{})

	require.NoError(t, s.Increase(ctx, "old", 1))
	removed, err := s.Replace(ctx, "old", "new")
	require.NoError(t, err)
	assert.True(t, removed)

	n, _ := s.Count(ctx, "new")
	assert.Equal(t, int64(1), n)
	n, _ = s.Count(ctx, "old")
	assert.Zero(t, n)
	assert.Equal(t, []string{"old"}, u.cids)
}

func TestSwap(t *testing.T) {
	ctx := context.Background()
	u := &recordingUnpinner{}
	s := NewService(repomanager.NewMemoryRepositoryManager(), u, logging.Nop{})
	require.NoError(t, s.Increase(ctx, "old", 2))
	require.NoError(t, s.Increase(ctx, "shared", 1))

	require.NoError(t, s.Swap(ctx,
		[]Ref{{CID: "new", Count: 1}, {CID: "shared", Count: 1}},
		[]Ref{{CID: "old", Count: 2}, {CID: "shared", Count: 1}},
		nil))

	for cid, want := range map[string]int64{"new": 1, "shared": 1, "old": 0} {
		n, err := s.Count(ctx, cid)
		require.NoError(t, err)
		assert.Equal(t, want, n, cid)
	}
	assert.Equal(t, []string{"old"}, u.cids)
}

func TestSwap_FailedWriteAppliesNothing(t *testing.T) {
	ctx := context.Background()
	u := &recordingUnpinner{}
	s := NewService(repomanager.NewMemoryRepositoryManager(), u, logging.Nop{})
	require.NoError(t, s.Increase(ctx, "old", 1))

	err := s.Swap(ctx, []Ref{{CID: "new", Count: 1}}, []Ref{{CID: "old", Count: 1}},
		func(context.Context, dbx.DBTX) error { return errors.New("superseded") })
	require.Error(t, err)

	n, _ := s.Count(ctx, "new")
	assert.Zero(t, n)
	n, _ = s.Count(ctx, "old")
	assert.Equal(t, int64(1), n)
	assert.Empty(t, u.cids)
}
