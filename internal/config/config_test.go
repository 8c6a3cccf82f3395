package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresToken(t *testing.T) {
	t.Setenv("CAMSTREAM_TOKEN", "")
	t.Setenv("CAMSTREAM_DEVICE", "cam-1")
	t.Setenv("CAMSTREAM_CONFIG", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAMSTREAM_TOKEN")
}

func TestLoad_RequiresDevice(t *testing.T) {
	t.Setenv("CAMSTREAM_TOKEN", "jwt")
	t.Setenv("CAMSTREAM_DEVICE", "")
	t.Setenv("CAMSTREAM_CONFIG", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAMSTREAM_DEVICE")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CAMSTREAM_TOKEN", "jwt")
	t.Setenv("CAMSTREAM_DEVICE", "cam-1")
	t.Setenv("CAMSTREAM_CONFIG", "")
	t.Setenv("CAMSTREAM_TICKET_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultTicketURL, cfg.TicketURL)
	assert.Equal(t, DefaultTimeouts(), cfg.Timeouts)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camstream.yaml")
	yaml := `
token: file-token
device_id: file-device
log_level: debug
timeouts:
  extension_buffer: 3s
  toggle: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("CAMSTREAM_CONFIG", path)
	t.Setenv("CAMSTREAM_TOKEN", "")
	t.Setenv("CAMSTREAM_DEVICE", "env-device")
	t.Setenv("CAMSTREAM_LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.Token)
	assert.Equal(t, "env-device", cfg.DeviceID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.ExtensionBuffer)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Toggle)
	assert.Equal(t, time.Second, cfg.Timeouts.Dispose)
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv("CAMSTREAM_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}
