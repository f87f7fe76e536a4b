package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"127.0.0.1:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, "file:promoflash.db?_fk=1", cfg.DatabaseDSN)
	assert.Equal(t, 2*time.Minute, cfg.Cache.NullTTL)
	assert.Equal(t, 10, cfg.Cache.RebuildWorkers)
	assert.Equal(t, 64, cfg.Cache.RebuildBacklog)
	assert.InDelta(t, 0.1, cfg.Cache.TTLJitter, 1e-9)
	assert.Equal(t, 1024, cfg.Seckill.QueueSize)
	assert.Equal(t, 20*time.Minute, cfg.Seckill.OrderLockTTL)
	assert.Equal(t, 10*time.Second, cfg.Seckill.PersistTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.PrewarmShopIDs)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis:
  addrs: ["10.0.0.1:6379", "10.0.0.2:6379"]
  db: 3
databaseDSN: "file:test.db"
cache:
  nullTTL: 30s
  ttlJitter: 0.25
seckill:
  queueSize: 16
prewarmShopIDs: [1, 7]
logLevel: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "file:test.db", cfg.DatabaseDSN)
	assert.Equal(t, 30*time.Second, cfg.Cache.NullTTL)
	assert.InDelta(t, 0.25, cfg.Cache.TTLJitter, 1e-9)
	assert.Equal(t, 16, cfg.Seckill.QueueSize)
	assert.Equal(t, []int64{1, 7}, cfg.PrewarmShopIDs)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched keys keep their defaults.
	assert.Equal(t, 10, cfg.Cache.RebuildWorkers)
	assert.Equal(t, 20*time.Minute, cfg.Seckill.OrderLockTTL)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PROMOFLASH_LOGLEVEL", "warn")
	t.Setenv("PROMOFLASH_DATABASEDSN", "file:env.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "file:env.db", cfg.DatabaseDSN)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
