package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/docstore"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/objectstore"
	"github.com/dmitrijs2005/hivenode/internal/server/apps"
	"github.com/dmitrijs2005/hivenode/internal/server/auth"
	"github.com/dmitrijs2005/hivenode/internal/server/cidref"
	"github.com/dmitrijs2005/hivenode/internal/server/config"
	"github.com/dmitrijs2005/hivenode/internal/server/files"
	"github.com/dmitrijs2005/hivenode/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/hivenode/internal/server/vault"
)

const (
	fileUser = "did:example:alice"
	fileApp  = "did:example:notes"
)

// newFileRouter serves the vault file routes for a fixed caller.
func newFileRouter(t *testing.T) (*gin.Engine, *files.Service) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	m := repomanager.NewMemoryRepositoryManager()
	docs := docstore.NewMemory()
	objects := objectstore.NewClient(objectstore.NewMemoryNetwork().Node("n"), objectstore.WithTempDir(filepath.Join(dir, "tmp")))
	a := apps.NewService(m, "hu_", logging.Nop{})
	v := vault.NewService(m, config.DefaultPlans(), a, docs, true, logging.Nop{})
	svc := files.NewService(docs, a, v, cidref.NewService(m, objects, logging.Nop{}), objects, dir, logging.Nop{})
	_, err := v.Subscribe(ctx, fileUser)
	require.NoError(t, err)
	require.NoError(t, a.Ensure(ctx, fileUser, fileApp))

	h := &handler{files: svc, log: logging.Nop{}}
	r := gin.New()
	r.GET("/vault/files/*path", func(c *gin.Context) {
		h.bind(c, &auth.Identity{UserDID: fileUser, AppDID: fileApp})
	}, h.getFile)
	return r, svc
}

func TestGetFile_Download(t *testing.T) {
	r, svc := newFileRouter(t)
	m, err := svc.Upload(context.Background(), fileUser, fileApp, "notes/a.txt", strings.NewReader("0123456789"), files.UploadOptions{})
	require.NoError(t, err)

	w := serve(r, http.MethodGet, "/vault/files/notes/a.txt", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "0123456789", w.Body.String())
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	etag := w.Header().Get("ETag")
	assert.Equal(t, `"sha256:`+m.SHA256+`"`, etag)
	lastModified := w.Header().Get("Last-Modified")
	assert.Equal(t, m.ModTime().UTC().Format(http.TimeFormat), lastModified)

	tests := []struct {
		name   string
		header map[string]string
		code   int
		body   string
	}{
		{"range", map[string]string{"Range": "bytes=2-5"}, http.StatusPartialContent, "2345"},
		{"suffix range", map[string]string{"Range": "bytes=-3"}, http.StatusPartialContent, "789"},
		{"unsatisfiable range", map[string]string{"Range": "bytes=20-30"}, http.StatusRequestedRangeNotSatisfiable, ""},
		{"matching etag", map[string]string{"If-None-Match": etag}, http.StatusNotModified, ""},
		{"stale etag", map[string]string{"If-None-Match": `"sha256:other"`}, http.StatusOK, "0123456789"},
		{"not modified since", map[string]string{"If-Modified-Since": lastModified}, http.StatusNotModified, ""},
		{"modified since", map[string]string{"If-Modified-Since": m.ModTime().Add(-time.Hour).UTC().Format(http.TimeFormat)}, http.StatusOK, "0123456789"},
		{"range if etag matches", map[string]string{"Range": "bytes=0-0", "If-Range": etag}, http.StatusPartialContent, "0"},
		{"whole file if etag changed", map[string]string{"Range": "bytes=0-0", "If-Range": `"sha256:other"`}, http.StatusOK, "0123456789"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, http.MethodGet, "/vault/files/notes/a.txt", tt.header)
			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}

	w = serve(r, http.MethodGet, "/vault/files/notes/a.txt", map[string]string{"Range": "bytes=2-5"})
	assert.Equal(t, "bytes 2-5/10", w.Header().Get("Content-Range"))

	w = serve(r, http.MethodGet, "/vault/files/notes/missing.txt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWithRawSort(t *testing.T) {
	options := json.RawMessage(`{"limit": 2, "sort": {"zeta": 1, "alpha": -1}}`)
	opts, err := document("options", options)
	require.NoError(t, err)

	opts = withRawSort(opts, options)
	assert.JSONEq(t, `{"zeta": 1, "alpha": -1}`, string(opts["sort"].(json.RawMessage)))
	assert.Equal(t, int64(2), opts["limit"])

	none := json.RawMessage(`{"limit": 2}`)
	opts, err = document("options", none)
	require.NoError(t, err)
	_, ok := withRawSort(opts, none)["sort"]
	assert.False(t, ok)
}
