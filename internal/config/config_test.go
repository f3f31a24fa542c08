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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8045, cfg.Server.Port)
	assert.Equal(t, "./auths", cfg.Auth.Dir)
	assert.Equal(t, 300, cfg.Refresh.AheadSeconds)
	assert.Equal(t, "0.0.0.0:8045", cfg.Addr())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 9000
auth:
  dir: /data/auths
  management_key: secret
redis:
  addr: localhost:6379
  state_ttl: 24h
refresh:
  interval_seconds: 30
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, "/data/auths", cfg.Auth.Dir)
	assert.Equal(t, "secret", cfg.Auth.ManagementKey)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.RedisStateTTL())
	assert.Equal(t, 30, cfg.Refresh.IntervalSeconds)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Refresh.MaxRetries)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8045, cfg.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANTIGRAVITY_PORT", "7777")
	t.Setenv("ANTIGRAVITY_AUTH_DIR", "/env/auths")
	t.Setenv("ANTIGRAVITY_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "/env/auths", cfg.Auth.Dir)
	assert.True(t, cfg.Logging.Debug)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"missing auth dir", func(c *Config) { c.Auth.Dir = "" }},
		{"bad refresh interval", func(c *Config) { c.Refresh.IntervalSeconds = 0 }},
		{"bad redis ttl", func(c *Config) { c.Redis.StateTTL = "not-a-duration" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
