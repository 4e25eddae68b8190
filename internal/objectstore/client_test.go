package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func newTestClient(t *testing.T, b Backend, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithRetry(3, time.Millisecond), WithTempDir(t.TempDir())}, opts...)
	return NewClient(b, opts...)
}

func TestClient_AddGet(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, NewMemoryNetwork().Node("a"))

	cid, err := c.Add(ctx, strings.NewReader("hello"))
	require.NoError(t, err)
	require.NoError(t, ValidateCID(cid))

	want, err := ComputeCID(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, want, cid)

	rc, err := c.Get(ctx, cid, Expect{SHA256: sum("hello"), Size: 5})
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))
}

func TestClient_GetIntegrity(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, NewMemoryNetwork().Node("a"))
	cid, err := c.Add(ctx, strings.NewReader("hello"))
	require.NoError(t, err)

	for name, exp := range map[string]Expect{
		"sha":   {SHA256: sum("other")},
		"short": {Size: 4},
		"long":  {Size: 6},
	} {
		t.Run(name, func(t *testing.T) {
			rc, err := c.Get(ctx, cid, exp)
			require.NoError(t, err)
			defer rc.Close()
			_, err = io.ReadAll(rc)
			assert.ErrorIs(t, err, ErrIntegrity)
		})
	}
}

func TestClient_GetRejectsBadCID(t *testing.T) {
	c := newTestClient(t, NewMemoryNetwork().Node("a"))
	_, err := c.Get(context.Background(), "../etc/passwd", Expect{})
	assert.ErrorIs(t, err, ErrInvalidCID)
}

func TestClient_PinAcrossNodes(t *testing.T) {
	ctx := context.Background()
	net := NewMemoryNetwork()
	a := newTestClient(t, net.Node("a"))
	b := newTestClient(t, net.Node("b"))

	cid, err := a.Add(ctx, strings.NewReader("shared"))
	require.NoError(t, err)

	ok, err := b.Exists(ctx, cid)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Pin(ctx, cid))
	require.NoError(t, b.Pin(ctx, cid))
	ok, err = b.Exists(ctx, cid)
	require.NoError(t, err)
	assert.True(t, ok)

	// a lets go, b still holds the content
	require.NoError(t, a.Unpin(ctx, cid))
	rc, err := b.Get(ctx, cid, Expect{SHA256: sum("shared")})
	require.NoError(t, err)
	_, err = io.ReadAll(rc)
	require.NoError(t, err)

	require.NoError(t, b.Unpin(ctx, cid))
	assert.Equal(t, 0, net.Len())
}

func TestClient_UnpinTolerant(t *testing.T) {
	c := newTestClient(t, NewMemoryNetwork().Node("a"))
	cid, err := ComputeCID(strings.NewReader("never added"))
	require.NoError(t, err)
	assert.NoError(t, c.Unpin(context.Background(), cid))
}

func TestClient_FetchFile(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, NewMemoryNetwork().Node("a"))
	cid, err := c.Add(ctx, strings.NewReader("payload"))
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "cache", cid)
	require.NoError(t, c.FetchFile(ctx, cid, Expect{SHA256: sum("payload"), Size: 7}, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	bad := filepath.Join(t.TempDir(), "bad")
	err = c.FetchFile(ctx, cid, Expect{Size: 1}, bad)
	assert.ErrorIs(t, err, ErrIntegrity)
	_, statErr := os.Stat(bad)
	assert.True(t, os.IsNotExist(statErr))
}

type flakyBackend struct {
	Backend
	failures int
	calls    int
}

func (f *flakyBackend) Cat(ctx context.Context, cid string) (io.ReadCloser, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.Backend.Cat(ctx, cid)
}

func TestClient_ReadRetries(t *testing.T) {
	ctx := context.Background()
	fb := &flakyBackend{Backend: NewMemoryNetwork().Node("a"), failures: 2}
	c := newTestClient(t, fb)
	cid, err := c.Add(ctx, strings.NewReader("x"))
	require.NoError(t, err)

	rc, err := c.Get(ctx, cid, Expect{})
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, 3, fb.calls)

	fb.calls, fb.failures = 0, 10
	_, err = c.Get(ctx, cid, Expect{})
	assert.Error(t, err)
	assert.Equal(t, 4, fb.calls)
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	fb := &flakyBackend{Backend: NewMemoryNetwork().Node("a")}
	c := newTestClient(t, fb)
	cid, _ := ComputeCID(strings.NewReader("missing"))

	_, err := c.Get(context.Background(), cid, Expect{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, fb.calls)
}

func TestClient_Observer(t *testing.T) {
	var ops []string
	c := newTestClient(t, NewMemoryNetwork().Node("a"), WithObserver(func(op string, err error) {
		ops = append(ops, op)
	}))
	cid, err := c.Add(context.Background(), strings.NewReader("x"))
	require.NoError(t, err)
	_, _ = c.Exists(context.Background(), cid)
	assert.Equal(t, []string{"add", "exists"}, ops)
}
