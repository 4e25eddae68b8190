package apps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
)

func TestDatabaseName(t *testing.T) {
	s := NewService(repomanager.NewMemoryRepositoryManager(), "hive_user_db_", logging.Nop{})
	assert.Equal(t, "hive_user_db_73e585aba1a4f066cee44815f459d54e", s.DatabaseName("did:u", "did:a"))
	assert.Len(t, s.DatabaseName("did:u", "did:a"), len("hive_user_db_")+32)
	assert.NotEqual(t, s.DatabaseName("did:u", "did:a"), s.DatabaseName("did:u", "did:b"))

	short := NewService(repomanager.NewMemoryRepositoryManager(), "hu_", logging.Nop{})
	assert.LessOrEqual(t, len(short.DatabaseName("did:u", "did:a")), 38)
}

func TestEnsureListAndAccess(t *testing.T) {
	ctx := context.Background()
	m := repomanager.NewMemoryRepositoryManager()
	s := NewService(m, "hu_", logging.Nop{})

	require.NoError(t, s.Ensure(ctx, "u", "b"))
	require.NoError(t, s.Ensure(ctx, "u", "a"))
	require.NoError(t, s.Ensure(ctx, "u", "a"))
	require.NoError(t, s.Ensure(ctx, "v", "a"))

	dids, err := s.AppDIDs(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, dids)

	names, err := s.DatabaseNames(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{s.DatabaseName("u", "a"), s.DatabaseName("u", "b")}, names)

	require.NoError(t, s.RecordAccess(ctx, "u", "a", 1, 100))
	require.NoError(t, s.RecordAccess(ctx, "u", "a", 1, 50))
	app, err := m.Applications(nil).Get(ctx, "u", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), app.AccessCount)
	assert.Equal(t, int64(150), app.AccessAmount)

	require.NoError(t, s.DeleteAll(ctx, "u"))
	dids, _ = s.AppDIDs(ctx, "u")
	assert.Empty(t, dids)

	// the cache was cleared, so the pair is registered again
	require.NoError(t, s.Ensure(ctx, "u", "a"))
	dids, _ = s.AppDIDs(ctx, "u")
	assert.Equal(t, []string{"a"}, dids)
}
