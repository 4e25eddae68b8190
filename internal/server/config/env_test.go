package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv(t *testing.T) {
	envFile = filepath.Join(t.TempDir(), "missing.env")
	t.Cleanup(func() { envFile = ".env" })

	t.Setenv("HIVE_BASE_URL", "https://hive.example")
	t.Setenv("HIVE_ACCESS_TOKEN_TTL", "2h")
	t.Setenv("HIVE_ENFORCE_QUOTA", "false")
	t.Setenv("HIVE_WORKER_POOL_SIZE", "16")
	t.Setenv("HIVE_S3_PREFIX", "")

	var c Config
	c.LoadDefaults()
	parseEnv(&c)

	assert.Equal(t, "https://hive.example", c.BaseURL)
	assert.Equal(t, 2*time.Hour, c.AccessTokenValidityDuration)
	assert.False(t, c.EnforceQuota)
	assert.Equal(t, 16, c.WorkerPoolSize)
	assert.Equal(t, "objects", c.S3Prefix, "empty variables are ignored")
}

func TestParseEnv_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile = filepath.Join(dir, ".env")
	t.Cleanup(func() { envFile = ".env" })
	require.NoError(t, os.WriteFile(envFile, []byte("HIVE_NODE_NAME=from-dotenv\nHIVE_LOG_FORMAT=text\n"), 0o600))

	// real environment wins over the file
	t.Setenv("HIVE_LOG_FORMAT", "zap")
	// godotenv sets variables directly; register them for cleanup
	t.Setenv("HIVE_NODE_NAME", "")
	require.NoError(t, os.Unsetenv("HIVE_NODE_NAME"))

	var c Config
	parseEnv(&c)

	assert.Equal(t, "from-dotenv", c.NodeName)
	assert.Equal(t, "zap", c.LogFormat)
}

func TestParseEnv_BadValuePanics(t *testing.T) {
	envFile = filepath.Join(t.TempDir(), "missing.env")
	t.Cleanup(func() { envFile = ".env" })
	t.Setenv("HIVE_WORKER_POOL_SIZE", "many")

	require.Panics(t, func() { parseEnv(&Config{}) })
}
