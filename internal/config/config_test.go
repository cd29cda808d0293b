package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
database:
  driver: postgres
  dsn: host=db user=erp
cache:
  ttl: 5m
`), 0644))

	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db user=erp", cfg.Database.DSN)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	// untouched defaults survive a partial file
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoad_RedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://:s3cret@cache.internal:6380/2")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.Equal(t, 2, cfg.Redis.DB)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Cache.Broadcast = true
	assert.Error(t, cfg.Validate())

	cfg.Redis.Enabled = true
	assert.NoError(t, cfg.Validate())
}
