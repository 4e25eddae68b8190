package database

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/docstore"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/apps"
	"github.com/dmitrijs2005/hivenode/internal/server/config"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/hivenode/internal/server/vault"
)

const (
	user = "did:example:alice"
	app  = "did:example:notes"
)

func newTestService(t *testing.T) (*Service, *vault.Service) {
	t.Helper()
	m := repomanager.NewMemoryRepositoryManager()
	docs := docstore.NewMemory()
	a := apps.NewService(m, "hu_", logging.Nop{})
	v := vault.NewService(m, config.DefaultPlans(), a, docs, true, logging.Nop{})
	_, err := v.Subscribe(context.Background(), user)
	require.NoError(t, err)
	return NewService(docs, a, v, logging.Nop{}), v
}

func TestCrudFlow(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	require.NoError(t, s.CreateCollection(ctx, user, app, "works", true, "user_did"))
	err := s.CreateCollection(ctx, user, app, "works", false, "")
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	opts, err := ParseInsertOptions(map[string]any{"bypass_document_validation": false})
	require.NoError(t, err)
	res, err := s.Insert(ctx, user, app, "works", []docstore.Document{
		{"author": "john", "title": "Eve for Dummies2"},
		{"author": "john", "title": "Eve for Dummies3"},
	}, opts)
	require.NoError(t, err)
	assert.Len(t, res.InsertedIDs, 2)

	n, err := s.Count(ctx, user, app, "works", docstore.Document{"author": "john"}, docstore.CountOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	uopts, err := ParseUpdateOptions(map[string]any{"upsert": true})
	require.NoError(t, err)
	ur, err := s.Update(ctx, user, app, "works",
		docstore.Document{"author": "nobody"},
		docstore.Document{"$set": docstore.Document{"title": "new"}}, uopts, true)
	require.NoError(t, err)
	assert.NotNil(t, ur.UpsertedID)
	assert.Zero(t, ur.ModifiedCount)

	deleted, err := s.Delete(ctx, user, app, "works", docstore.Document{"author": "john"}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	found, err := s.Find(ctx, user, app, "works", docstore.Document{"author": "john"}, docstore.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, found.Items, 1)
	assert.True(t, found.IsEncrypted)
	assert.Equal(t, "user_did", found.EncryptMethod)
	assert.Contains(t, found.Items[0], docstore.CreatedField, "timestamps are injected by default")

	require.NoError(t, s.DeleteCollection(ctx, user, app, "works"))
	_, err = s.Find(ctx, user, app, "works", nil, docstore.FindOptions{})
	assert.Equal(t, common.CodeCollectionNotFound, common.CodeOf(err))
}

func TestInternalCollectionsRejected(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	for _, name := range internalCollections {
		err := s.CreateCollection(ctx, user, app, name, false, "")
		assert.ErrorIs(t, err, common.ErrorInvalidParameter, name)
		_, err = s.Find(ctx, user, app, name, nil, docstore.FindOptions{})
		assert.ErrorIs(t, err, common.ErrorInvalidParameter, name)
	}
}

func TestFrozenVault(t *testing.T) {
	ctx := context.Background()
	s, v := newTestService(t)
	require.NoError(t, s.CreateCollection(ctx, user, app, "c", false, ""))
	require.NoError(t, v.Activate(ctx, user, false))

	_, err := s.Insert(ctx, user, app, "c", []docstore.Document{{"a": 1}}, docstore.InsertOptions{})
	assert.ErrorIs(t, err, common.ErrorVaultFrozen)

	_, err = s.Find(ctx, user, app, "c", nil, docstore.FindOptions{})
	assert.NoError(t, err, "reads are allowed")
}

func TestMissingVault(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Find(context.Background(), "did:example:bob", app, "c", nil, docstore.FindOptions{})
	assert.Equal(t, common.CodeVaultNotFound, common.CodeOf(err))
}

func TestParseFindOptions(t *testing.T) {
	opts, err := ParseFindOptions(map[string]any{
		"skip":                  float64(1),
		"limit":                 float64(10),
		"projection":            map[string]any{"_id": false},
		"sort":                  []any{[]any{"b", float64(-1)}, []any{"a", float64(1)}},
		"allow_partial_results": false,
		"batch_size":            float64(5),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), opts.Skip)
	assert.Equal(t, int64(10), opts.Limit)
	assert.Equal(t, docstore.SortSpec{{Key: "b", Dir: -1}, {Key: "a", Dir: 1}}, opts.Sort)

	opts, err = ParseFindOptions(map[string]any{"sort": json.RawMessage(`{"zeta": 1, "alpha": -1}`)})
	require.NoError(t, err)
	assert.Equal(t, docstore.SortSpec{{Key: "zeta", Dir: 1}, {Key: "alpha", Dir: -1}}, opts.Sort)

	opts, err = ParseFindOptions(map[string]any{"sort": map[string]any{"a": float64(-1)}})
	require.NoError(t, err)
	assert.Equal(t, docstore.SortSpec{{Key: "a", Dir: -1}}, opts.Sort)

	_, err = ParseFindOptions(map[string]any{"limit": "ten"})
	assert.ErrorIs(t, err, common.ErrorInvalidParameter)
	_, err = ParseFindOptions(map[string]any{"skip": float64(-1)})
	assert.ErrorIs(t, err, common.ErrorInvalidParameter)

	iopts, err := ParseInsertOptions(map[string]any{"timestamp": false})
	require.NoError(t, err)
	assert.False(t, iopts.Timestamp)
	assert.True(t, iopts.Ordered)
}
