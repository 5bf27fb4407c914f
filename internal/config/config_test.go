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

	assert.Equal(t, 8443, cfg.Server.DevicePort)
	assert.Equal(t, 5000, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, 90*time.Second, cfg.Fleet.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, cfg.Fleet.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.Fleet.SendTimeout)
	assert.Equal(t, 32, cfg.Fleet.FanoutLimit)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.False(t, cfg.Events.MQTT.Enabled)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  device_port: 9000
fleet:
  heartbeat_timeout: 2m
storage:
  backend: filesystem
  path: /var/lib/signage
`), 0o644))

	t.Setenv("SIGNAGE_FLEET_SEND_TIMEOUT", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.DevicePort)
	assert.Equal(t, 2*time.Minute, cfg.Fleet.HeartbeatTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.Fleet.SendTimeout)
	assert.Equal(t, "filesystem", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/signage", cfg.Storage.Path)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: floppy\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "storage.backend")
}

func TestMissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestJWTSecretFallback(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "SIGNAGE_TEST_SECRET"}
	t.Setenv("SIGNAGE_TEST_SECRET", "")
	assert.False(t, a.IsProductionReady())

	t.Setenv("SIGNAGE_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	assert.True(t, a.IsProductionReady())
}
