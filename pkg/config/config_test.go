package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "weft-core", cfg.ServiceName)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Hour, cfg.ExecutionTTL)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, int64(10000), cfg.WALMaxLen)
	assert.Equal(t, 30, cfg.WALReplayWindow)
	assert.Equal(t, "fs", cfg.ArtifactStorageType)
	assert.False(t, cfg.UseMemory)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("EXECUTION_TTL", "30m")
	t.Setenv("WAL_MAX_LEN", "500")
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("TENANT_RATE_PER_SEC", "5.5")

	cfg := Load()

	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 30*time.Minute, cfg.ExecutionTTL)
	assert.Equal(t, int64(500), cfg.WALMaxLen)
	assert.True(t, cfg.UseMemory)
	assert.Equal(t, 5.5, cfg.TenantRatePerSec)
}

func TestLoadProfileMergedBeneathEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weft.yaml")
	profile := `
service_name: weft-staging
redis:
  addr: profile-redis:6379
docstore:
  kind: sqlite
  sqlite_path: /tmp/weft.db
ttl:
  execution: 10m
wal:
  max_len: 2000
`
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o600))

	t.Setenv("WEFT_CONFIG", path)
	t.Setenv("REDIS_ADDR", "env-redis:6379") // env wins over profile

	cfg := Load()

	assert.Equal(t, "weft-staging", cfg.ServiceName)
	assert.Equal(t, "env-redis:6379", cfg.RedisAddr)
	assert.Equal(t, "sqlite", cfg.DocstoreKind)
	assert.Equal(t, "/tmp/weft.db", cfg.SQLitePath)
	assert.Equal(t, 10*time.Minute, cfg.ExecutionTTL)
	assert.Equal(t, int64(2000), cfg.WALMaxLen)
}

func TestLoadBrokenProfileFallsBackToEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\nnot yaml ["), 0o600))

	t.Setenv("WEFT_CONFIG", path)
	cfg := Load()

	assert.Equal(t, "weft-core", cfg.ServiceName)
}
