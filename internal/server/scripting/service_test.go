package scripting

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/did"
	"github.com/dmitrijs2005/hivenode/internal/docstore"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/objectstore"
	"github.com/dmitrijs2005/hivenode/internal/server/apps"
	"github.com/dmitrijs2005/hivenode/internal/server/auth"
	"github.com/dmitrijs2005/hivenode/internal/server/cidref"
	"github.com/dmitrijs2005/hivenode/internal/server/config"
	"github.com/dmitrijs2005/hivenode/internal/server/database"
	"github.com/dmitrijs2005/hivenode/internal/server/files"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/hivenode/internal/server/vault"
)

const (
	owner    = "did:example:alice"
	ownerApp = "did:example:notes"
	friend   = "did:example:bob"
	stranger = "did:example:carol"
)

type fixture struct {
	s     *Service
	db    *database.Service
	files *files.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	m := repomanager.NewMemoryRepositoryManager()
	docs := docstore.NewMemory()
	a := apps.NewService(m, "hu_", logging.Nop{})
	objects := objectstore.NewClient(objectstore.NewMemoryNetwork().Node("n1"), objectstore.WithTempDir(filepath.Join(dir, "tmp")))
	v := vault.NewService(m, config.DefaultPlans(), a, docs, true, logging.Nop{})
	refs := cidref.NewService(m, objects, logging.Nop{})
	f := files.NewService(docs, a, v, refs, objects, dir, logging.Nop{})
	db := database.NewService(docs, a, v, logging.Nop{})

	kp, err := did.GenerateKeyPair()
	require.NoError(t, err)
	s := NewService(db, f, v, auth.NewTokens(kp), "http://node.test", time.Minute, logging.Nop{})

	_, err = v.Subscribe(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, a.Ensure(ctx, owner, ownerApp))
	return &fixture{s: s, db: db, files: f}
}

func caller(userDID string) *auth.Identity {
	return &auth.Identity{UserDID: userDID, AppDID: ownerApp}
}

func friendsScript() docstore.Document {
	return docstore.Document{
		"condition": map[string]any{
			"name": "verify_user_permission",
			"type": ConditionQueryHasResults,
			"body": map[string]any{
				"collection": "test_group",
				"filter":     map[string]any{"friends": "$caller_did"},
			},
		},
		"executable": map[string]any{
			"name": "get_messages",
			"type": ExecFind,
			"body": map[string]any{
				"collection": "messages",
				"filter":     map[string]any{"author": "$params.author"},
			},
		},
	}
}

func TestRun_FriendsCondition(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	require.NoError(t, fx.db.CreateCollection(ctx, owner, ownerApp, "test_group", false, ""))
	require.NoError(t, fx.db.CreateCollection(ctx, owner, ownerApp, "messages", false, ""))
	_, err := fx.db.Insert(ctx, owner, ownerApp, "test_group",
		[]docstore.Document{{"friends": friend}}, docstore.InsertOptions{})
	require.NoError(t, err)
	_, err = fx.db.Insert(ctx, owner, ownerApp, "messages",
		[]docstore.Document{{"author": "alice", "text": "hi"}, {"author": "dave", "text": "yo"}}, docstore.InsertOptions{})
	require.NoError(t, err)

	_, err = fx.s.Register(ctx, owner, ownerApp, "get_messages", friendsScript())
	require.NoError(t, err)

	target := Target{DID: owner, AppDID: ownerApp}
	out, err := fx.s.Run(ctx, caller(friend), "get_messages", target, map[string]any{"author": "alice"})
	require.NoError(t, err)
	items := out["get_messages"].(map[string]any)["items"].([]docstore.Document)
	require.Len(t, items, 1)
	assert.Equal(t, "hi", items[0]["text"])

	_, err = fx.s.Run(ctx, caller(stranger), "get_messages", target, map[string]any{"author": "alice"})
	assert.ErrorIs(t, err, common.ErrorForbidden)

	_, err = fx.s.Run(ctx, caller(friend), "get_messages", target, nil)
	assert.ErrorIs(t, err, common.ErrorInvalidParameter, "missing parameter")
}

func TestRun_AnonymousFlags(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	require.NoError(t, fx.db.CreateCollection(ctx, owner, ownerApp, "c", false, ""))

	body := docstore.Document{
		"executable": map[string]any{
			"name": "count",
			"type": ExecCount,
			"body": map[string]any{"collection": "c"},
		},
	}
	_, err := fx.s.Register(ctx, owner, ownerApp, "count", body)
	require.NoError(t, err)

	target := Target{DID: owner, AppDID: ownerApp}
	_, err = fx.s.Run(ctx, nil, "count", target, nil)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	body["allowAnonymousUser"] = true
	_, err = fx.s.Register(ctx, owner, ownerApp, "count", body)
	require.NoError(t, err)
	_, err = fx.s.Run(ctx, nil, "count", target, nil)
	assert.ErrorIs(t, err, common.ErrorForbidden)

	body["allowAnonymousApp"] = true
	_, err = fx.s.Register(ctx, owner, ownerApp, "count", body)
	require.NoError(t, err)
	out, err := fx.s.Run(ctx, nil, "count", target, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": map[string]any{"count": int64(0)}}, out)
}

func TestRun_AggregatedAndDefaults(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	require.NoError(t, fx.db.CreateCollection(ctx, owner, ownerApp, "notes", false, ""))

	_, err := fx.s.Register(ctx, owner, ownerApp, "add", docstore.Document{
		"executable": map[string]any{
			"name": "all",
			"type": ExecAggregated,
			"body": []any{
				map[string]any{
					"name":   "insert",
					"type":   ExecInsert,
					"output": false,
					"body": map[string]any{
						"collection": "notes",
						"document":   map[string]any{"by": "$caller_did", "text": "note ${params.n}"},
					},
				},
				map[string]any{
					"name": "total",
					"type": ExecCount,
					"body": map[string]any{"collection": "notes", "filter": map[string]any{"by": "$caller_did"}},
				},
			},
		},
	})
	require.NoError(t, err)

	// empty target runs the caller's own script
	out, err := fx.s.Run(ctx, caller(owner), "add", Target{}, map[string]any{"n": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": map[string]any{"count": int64(1)}}, out)

	res, err := fx.db.Find(ctx, owner, ownerApp, "notes", nil, docstore.FindOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "note 7", res.Items[0]["text"])
}

func TestRegisterAndUnregister(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.s.Register(ctx, owner, ownerApp, "bad", docstore.Document{
		"executable": map[string]any{"name": "x", "type": "shell", "body": map[string]any{}},
	})
	assert.ErrorIs(t, err, common.ErrorInvalidParameter)

	_, err = fx.s.Run(ctx, caller(owner), "missing", Target{}, nil)
	assert.Equal(t, common.CodeScriptNotFound, common.CodeOf(err))

	err = fx.s.Unregister(ctx, owner, ownerApp, "missing")
	assert.Equal(t, common.CodeScriptNotFound, common.CodeOf(err))

	_, err = fx.s.Register(ctx, owner, ownerApp, "s", friendsScript())
	require.NoError(t, err)
	require.NoError(t, fx.s.Unregister(ctx, owner, ownerApp, "s"))
}

func TestFileTransactions(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	_, err := fx.s.Register(ctx, owner, ownerApp, "upload", docstore.Document{
		"executable": map[string]any{
			"name": "upload_file",
			"type": ExecFileUpload,
			"body": map[string]any{"path": "shared/$params.name"},
		},
	})
	require.NoError(t, err)

	out, err := fx.s.Run(ctx, caller(friend), "upload", Target{DID: owner, AppDID: ownerApp}, map[string]any{"name": "a.txt"})
	require.NoError(t, err)
	tx := out["upload_file"].(map[string]any)["transaction_id"].(string)

	m, err := fx.s.UploadStream(ctx, tx, strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, "shared/a.txt", m.Path)

	_, err = fx.s.UploadStream(ctx, tx, strings.NewReader("again"))
	assert.ErrorIs(t, err, common.ErrorNotFound, "transactions are single use")

	_, _, err = fx.s.DownloadStream(ctx, tx)
	assert.Error(t, err)

	require.NoError(t, fx.s.RegisterPublicDownload(ctx, owner, ownerApp, "get_a", "shared/a.txt"))
	out, err = fx.s.Run(ctx, nil, "get_a", Target{DID: owner, AppDID: ownerApp}, nil)
	require.NoError(t, err)
	res := out["get_a"].(map[string]any)

	_, f, err := fx.s.DownloadStream(ctx, res["transaction_id"].(string))
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	_, _, err = fx.s.DownloadStream(ctx, "not-a-token")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestFileProperties(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	m, err := fx.files.Upload(ctx, owner, ownerApp, "doc.txt", strings.NewReader("hello"), files.UploadOptions{})
	require.NoError(t, err)

	_, err = fx.s.Register(ctx, owner, ownerApp, "props", docstore.Document{
		"executable": map[string]any{
			"name": "info",
			"type": ExecAggregated,
			"body": []any{
				map[string]any{"name": "props", "type": ExecFileProperties, "body": map[string]any{"path": "doc.txt"}},
				map[string]any{"name": "hash", "type": ExecFileHash, "body": map[string]any{"path": "doc.txt"}},
			},
		},
	})
	require.NoError(t, err)

	out, err := fx.s.Run(ctx, caller(owner), "props", Target{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), out["props"].(map[string]any)["size"])
	assert.Equal(t, map[string]any{"SHA256": m.SHA256}, out["hash"])
}
