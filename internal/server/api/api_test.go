package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/common"
	"github.com/dmitrijs2005/hivenode/internal/logging"
	"github.com/dmitrijs2005/hivenode/internal/server/auth"
	"github.com/dmitrijs2005/hivenode/internal/server/metrics"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestRouter(t *testing.T) (*gin.Engine, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil)
	r := NewRouter(Deps{
		Metrics:   m,
		Node:      NodeInfo{Version: "v2.7.1", CommitID: "abc123"},
		RateLimit: 1,
		RateBurst: 2,
	}, logging.Nop{})
	r.GET("/boom", func(*gin.Context) { panic("boom") })
	return r, m
}

func serve(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var e errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

func TestEnvelope(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errorEnvelope
	}{
		{
			name: "not found carries the code",
			err:  common.NotFound(common.CodeVaultNotFound, "vault of %s", "did:x"),
			want: errorEnvelope{Error: errorBody{Message: "vault of did:x", InternalCode: common.CodeVaultNotFound}},
		},
		{
			name: "plain error",
			err:  errors.New("disk on fire"),
			want: errorEnvelope{Error: errorBody{Message: "disk on fire"}},
		},
		{
			name: "wrapped typed error",
			err:  common.Internal(errors.New("io"), "write blob"),
			want: errorEnvelope{Error: errorBody{Message: "write blob"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, envelope(tt.err)); diff != "" {
				t.Errorf("envelope mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRouter_NoRoute(t *testing.T) {
	r, _ := newTestRouter(t)
	w := serve(r, http.MethodGet, "/api/v2/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeEnvelope(t, w).Error.Message, "/api/v2/nowhere")
}

func TestRouter_RequestID(t *testing.T) {
	r, _ := newTestRouter(t)

	w := serve(r, http.MethodGet, "/api/v2/about/version", map[string]string{common.RequestIDHeader: "req-1"})
	assert.Equal(t, "req-1", w.Header().Get(common.RequestIDHeader))

	w = serve(r, http.MethodGet, "/api/v2/about/version", map[string]string{common.RequestIDHeader: strings.Repeat("x", 200)})
	got := w.Header().Get(common.RequestIDHeader)
	assert.NotEmpty(t, got)
	assert.Less(t, len(got), 200, "oversized ids are replaced")
}

func TestAccessLog_CarriesRequestAndCaller(t *testing.T) {
	var buf bytes.Buffer
	h := &handler{log: logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))}
	r := gin.New()
	r.Use(requestID(), h.accessLog())
	r.GET("/me", func(c *gin.Context) {
		h.bind(c, &auth.Identity{UserDID: "did:example:alice", AppDID: "did:example:notes"})
		c.Status(http.StatusNoContent)
	})

	serve(r, http.MethodGet, "/me", map[string]string{common.RequestIDHeader: "req-9"})
	out := buf.String()
	for _, want := range []string{"msg=request", "request_id=req-9", "user_did=did:example:alice", "app_did=did:example:notes", "status=204"} {
		assert.Contains(t, out, want)
	}
}

func TestRouter_About(t *testing.T) {
	r, _ := newTestRouter(t)

	w := serve(r, http.MethodGet, "/api/v2/about/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"major":2,"minor":7,"patch":1}`, w.Body.String())

	w = serve(r, http.MethodGet, "/api/v2/about/commit_id", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"commit_id":"abc123"}`, w.Body.String())
}

func TestRouter_Unauthorized(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, p := range []string{
		"/api/v2/subscription/vault",
		"/api/v2/vault/files/a.txt",
		"/api/v2/vault-backup-service/state",
	} {
		w := serve(r, http.MethodGet, p, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, p)
	}

	w := serve(r, http.MethodGet, "/api/v2/vault/files/a.txt", map[string]string{common.AuthorizationHeader: "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_Recovery(t *testing.T) {
	r, _ := newTestRouter(t)
	w := serve(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "boom", decodeEnvelope(t, w).Error.Message)

	w = serve(r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `hive_http_requests_total{method="GET",route="/boom",status="500"} 1`)
}

func TestRouter_SignInRateLimit(t *testing.T) {
	r, _ := newTestRouter(t)
	var codes []int
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/v2/did/signin", strings.NewReader(`{}`))
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiterWithNow(1, 2, func() time.Time { return clock })

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "burst spent")
	assert.True(t, rl.Allow("b"), "keys have separate buckets")

	clock = clock.Add(time.Second)
	assert.True(t, rl.Allow("a"), "one token refilled")
	assert.False(t, rl.Allow("a"))

	clock = clock.Add(time.Hour)
	rl.Allow("c")
	rl.mu.Lock()
	_, kept := rl.visitors["a"]
	rl.mu.Unlock()
	assert.False(t, kept, "idle buckets are collected")
}

func TestReconciles(t *testing.T) {
	assert.False(t, reconciles("/api/v2/did/signin"))
	assert.False(t, reconciles("/api/v2/subscription/vault"))
	assert.True(t, reconciles("/api/v2/vault/files/a.txt"))
	assert.True(t, reconciles("/api/v2/vault/db/collection/c"))
}

func TestSplitTarget(t *testing.T) {
	owner, app, err := splitTarget("did:key:zA@did:key:zB")
	require.NoError(t, err)
	assert.Equal(t, "did:key:zA", owner)
	assert.Equal(t, "did:key:zB", app)

	for _, bad := range []string{"", "@app", "owner@", "noat"} {
		_, _, err := splitTarget(bad)
		assert.ErrorIs(t, err, common.ErrorInvalidParameter, bad)
	}
}
