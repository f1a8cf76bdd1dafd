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

	assert.Equal(t, "production", cfg.App.Env)
	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.PongTimeout)
	assert.Equal(t, int64(64*1024), cfg.WS.MaxMessageSizeBytes)
	assert.Equal(t, "evict", cfg.Hub.DuplicateSessionPolicy)
	assert.False(t, cfg.Development())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
app:
  env: development
  port: "9999"
  jwt_secret: s3cret
ws:
  ping_interval_seconds: 2
  pong_timeout_seconds: 4
hub:
  duplicate_session_policy: ignore
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Development())
	assert.Equal(t, "9999", cfg.App.Port)
	assert.Equal(t, "s3cret", cfg.App.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.PingInterval)
	assert.Equal(t, 4*time.Second, cfg.PongTimeout)
	assert.Equal(t, "ignore", cfg.Hub.DuplicateSessionPolicy)
	// file values do not disturb unrelated defaults
	assert.Equal(t, "chatapp", cfg.Mongo.Database)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
