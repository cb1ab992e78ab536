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
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
	assert.Equal(t, def.Server.AllowedOrigins, cfg.Server.AllowedOrigins)
	assert.Equal(t, ":9090", cfg.TCP.Addr)
	assert.Equal(t, 1024, cfg.TCP.MaxLineLength)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 100, cfg.Rooms.HistorySize)
	assert.True(t, cfg.Rooms.AutoCreate)
	assert.False(t, cfg.Rooms.DeleteEmpty)
	assert.Equal(t, int64(16<<20), cfg.Upload.MaxSize)
}

// TestLoadFromEnv uses the flat variable names and the nested ones.
func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", ":9999")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("ROOMS_DELETE_EMPTY", "true")
	t.Setenv("TCP_WRITE_WAIT", "2s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.RefillInterval)
	assert.True(t, cfg.Rooms.DeleteEmpty)
	assert.Equal(t, 2*time.Second, cfg.TCP.WriteWait)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `
rooms:
  default_room: Lobby
  history_size: 20
  auto_create: false
tcp:
  enabled: false
websocket:
  pong_wait: 30s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "Lobby", cfg.Rooms.DefaultRoom)
	assert.Equal(t, 20, cfg.Rooms.HistorySize)
	assert.False(t, cfg.Rooms.AutoCreate)
	assert.False(t, cfg.TCP.Enabled)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PongWait)
	assert.Less(t, cfg.WebSocket.PingInterval, cfg.WebSocket.PongWait)
}

// TestLoadRejectsInvalidValues falls back to defaults on nonsense input.
func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RATE_LIMIT_BURST", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "-4")
	t.Setenv("WEBSOCKET_WRITE_WAIT", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.WriteWait)
}

func TestSanitize(t *testing.T) {
	cfg := Sanitize(Config{Server: ServerConfig{AllowedOrigins: []string{" ", "http://x.example "}}})

	def := Default()
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
	assert.Equal(t, []string{"http://x.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, def.TCP.SendBuffer, cfg.TCP.SendBuffer)
	assert.Equal(t, def.Rooms.DefaultRoom, cfg.Rooms.DefaultRoom)
	assert.Equal(t, def.Upload.Dir, cfg.Upload.Dir)
}
