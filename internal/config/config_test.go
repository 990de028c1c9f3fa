package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librescoot/metalfsm/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	config.ResetCache()
	t.Setenv("METALFSM_STORE", "")
	os.Unsetenv("METALFSM_STORE")

	var cfg config.Config
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, ":6385", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Minute, cfg.Conductor.DeployCallbackTimeout)
	assert.Equal(t, 8, cfg.Conductor.Workers)
	assert.Equal(t, "metalfsm:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "/usr/bin/amttool", cfg.AMT.ToolPath)
	assert.Empty(t, cfg.Fabric.URL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	config.ResetCache()
	t.Setenv("METALFSM_STORE", "redis")
	t.Setenv("METALFSM_DEPLOY_CALLBACK_TIMEOUT", "90s")
	t.Setenv("FABRIC_URL", "http://fabric.local:9696")

	var cfg config.Config
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, 90*time.Second, cfg.Conductor.DeployCallbackTimeout)
	assert.Equal(t, "http://fabric.local:9696", cfg.Fabric.URL)
}

func TestLoad_Cached(t *testing.T) {
	config.ResetCache()
	t.Setenv("METALFSM_HTTP_ADDR", ":1111")

	var first config.Config
	require.NoError(t, config.Load(&first))

	t.Setenv("METALFSM_HTTP_ADDR", ":2222")
	var second config.Config
	require.NoError(t, config.Load(&second))

	assert.Equal(t, ":1111", second.HTTPAddr, "second load should come from cache")
}

func TestLoad_InvalidValue(t *testing.T) {
	config.ResetCache()
	t.Setenv("METALFSM_WORKERS", "many")

	var cfg config.Config
	err := config.Load(&cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoad_NilPointer(t *testing.T) {
	assert.ErrorIs(t, config.Load[config.Config](nil), config.ErrNilPointer)
}

func TestLoadEnv(t *testing.T) {
	config.ResetCache()
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("METALFSM_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("METALFSM_LOG_LEVEL", "info")

	require.NoError(t, config.LoadEnv(path))

	var cfg config.Config
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "debug", cfg.LogLevel)

	assert.ErrorIs(t, config.LoadEnv(filepath.Join(dir, "missing.env")), config.ErrLoadingEnvFile)
}

func TestMustLoad(t *testing.T) {
	config.ResetCache()
	t.Setenv("METALFSM_WORKERS", "many")

	assert.Panics(t, func() {
		var cfg config.Config
		config.MustLoad(&cfg)
	})
}
