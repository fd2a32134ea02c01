package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite\n  dsn: \"file::memory:\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Session.TickInterval)
	assert.Equal(t, 600*time.Second, cfg.Session.Inactivity)
	assert.Equal(t, 60*time.Second, cfg.Controller.OnlineWindow)
	assert.Equal(t, 10, cfg.Controller.PollLimit)
	assert.Equal(t, float64(1000000), cfg.Loyalty.MaxCardBalance)
	assert.Equal(t, "carwash/bays", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.False(t, cfg.Push.Enabled())
}

func TestLoad_RespectsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
session:
  tick_interval_ms: 250
  inactivity_seconds: 120
controller:
  online_window_seconds: 30
push:
  vapid_public_key: pub
  vapid_private_key: priv
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.TickInterval)
	assert.Equal(t, 120*time.Second, cfg.Session.Inactivity)
	assert.Equal(t, 30*time.Second, cfg.Controller.OnlineWindow)
	assert.True(t, cfg.Push.Enabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
