package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Database.MaxOpenConns)
	assert.Equal(t, 4, cfg.Database.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, int64(0), cfg.Tenant.DefaultSetID)
	assert.Equal(t, "strata:shared:", cfg.Cache.RedisPrefix)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
database:
  dsn: "user:pass@tcp(localhost:3306)/strata"
  max_open_conns: 32
tenant:
  default_set_id: 7
cache:
  redis_addr: "localhost:6379"
  ttl: 5m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strata.yml"), []byte(content), 0o644))
	chdir(t, dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "user:pass@tcp(localhost:3306)/strata", cfg.Database.DSN)
	assert.Equal(t, 32, cfg.Database.MaxOpenConns)
	assert.Equal(t, 4, cfg.Database.MaxIdleConns)
	assert.Equal(t, int64(7), cfg.Tenant.DefaultSetID)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	content := `
database:
  max_open_conns: -1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strata.yml"), []byte(content), 0o644))
	chdir(t, dir)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_open_conns")
}

func TestGetDSNPrefersEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STRATA_DSN", "env:pass@tcp(db:3306)/strata")

	assert.Equal(t, "env:pass@tcp(db:3306)/strata", GetDSN())
}
