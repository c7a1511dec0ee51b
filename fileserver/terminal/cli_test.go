package terminal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10000, cfg.ListenPort)
	assert.Equal(t, "files", cfg.RootDir)
	assert.Equal(t, 5*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.False(t, cfg.StrictCatalog)
}

func TestLoadEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"FILEXFER_PORT=12000\nFILEXFER_ROOT=/srv/files\nFILEXFER_IDLE_TIMEOUT=7\nFILEXFER_STRICT_CATALOG=true\n"), 0o644))

	t.Setenv(EnvPort, "13000")
	t.Setenv(EnvChunkSize, "4096")

	cfg := DefaultConfig()
	require.NoError(t, LoadEnv(cfg, envFile))

	assert.Equal(t, 13000, cfg.ListenPort, "environment wins over .env")
	assert.Equal(t, "/srv/files", cfg.RootDir)
	assert.Equal(t, 7*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 4096, cfg.ChunkSize)
	assert.True(t, cfg.StrictCatalog)
}

func TestLoadEnvMissingFile(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, LoadEnv(cfg, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadEnvCollectsErrors(t *testing.T) {
	t.Setenv(EnvPort, "ten")
	t.Setenv(EnvIdleTimeout, "soon")
	t.Setenv(EnvAdvertise, "maybe")

	err := LoadEnv(DefaultConfig(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvPort)
	assert.Contains(t, err.Error(), EnvIdleTimeout)
	assert.Contains(t, err.Error(), EnvAdvertise)
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("1500ms")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = parseDuration("3")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)
}

func TestValidateConfig(t *testing.T) {
	root := t.TempDir()
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.RootDir = root
		return cfg
	}
	require.NoError(t, ValidateConfig(valid()))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing root", func(c *Config) { c.RootDir = filepath.Join(root, "missing") }},
		{"port too large", func(c *Config) { c.ListenPort = 70000 }},
		{"chunk too small", func(c *Config) { c.ChunkSize = 10 }},
		{"chunk too large", func(c *Config) { c.ChunkSize = 4 << 20 }},
		{"zero idle timeout", func(c *Config) { c.IdleTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}

	file := filepath.Join(root, "plain.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg := valid()
	cfg.RootDir = file
	assert.ErrorContains(t, ValidateConfig(cfg), "not a directory")
}
