package filex

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempFile_CleanupRemoves(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tmp")
	f, cleanup, err := TempFile(dir, "upload-")
	require.NoError(t, err)

	_, err = f.WriteString("data")
	require.NoError(t, err)
	assert.True(t, Exists(f.Name()))
	assert.True(t, strings.HasPrefix(filepath.Base(f.Name()), "upload-"))

	cleanup()
	cleanup()
	assert.False(t, Exists(f.Name()))
}

func TestCopyHashed(t *testing.T) {
	var dst bytes.Buffer
	sum, n, err := CopyHashed(&dst, strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
	assert.Equal(t, "hello", dst.String())
}

func TestMoveFile_CreatesTargetDir(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a")
	dst := filepath.Join(root, "x", "y", "b")
	require.NoError(t, os.WriteFile(src, []byte("z"), 0o600))

	require.NoError(t, MoveFile(src, dst))
	assert.False(t, Exists(src))

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "z", string(b))

	require.NoError(t, RemoveIfExists(dst))
	require.NoError(t, RemoveIfExists(dst))
}
