package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
apiUrl: http://localhost:3001
wsUrl: ws://localhost:3001/ws
tokenFile: /tmp/creds.yaml
realtime:
  heartbeatInterval: 15s
  maxReconnectAttempts: 5
  reconnectMaxDelay: 1m
auth:
  maxRetries: -1
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3001", cfg.APIURL)
	assert.Equal(t, "ws://localhost:3001/ws", cfg.WSURL)
	assert.Equal(t, "/tmp/creds.yaml", cfg.TokenFile)
	assert.Equal(t, 15*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 5, cfg.Realtime.MaxReconnectAttempts)
	assert.Equal(t, time.Minute, cfg.Realtime.ReconnectMaxDelay)
	assert.Equal(t, -1, cfg.Auth.MaxRetries)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(dir, "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("apiUrl: http://localhost:3001\n"), 0o600))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingWSURL)

	require.NoError(t, os.WriteFile(path, []byte("apiUrl: [\n"), 0o600))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
