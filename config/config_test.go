package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "/api/socketio", cfg.TransportConfig.Path)
	assert.Equal(t, []string{"websocket"}, cfg.TransportConfig.AllowedTransports)
	assert.Equal(t, 5, cfg.RateLimitConfig.Default.MaxMessages)
	assert.Equal(t, 5*time.Second, cfg.RateLimitConfig.Default.Window)
	assert.Equal(t, 10, cfg.RateLimitConfig.DJ.MaxMessages)
	assert.Equal(t, 20, cfg.RateLimitConfig.Admin.MaxMessages)
	assert.Equal(t, 4*time.Second, cfg.TypingConfig.IdleTimeout)
	assert.Equal(t, 50, cfg.HistoryConfig.DefaultLimit)
	assert.NoError(t, cfg.Validate())
}

func TestReadConfigurationDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.toml"), []byte(`
log_level = "DEBUG"
[rate_limit.dj]
max_messages = 3
window = "2s"
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.toml"), []byte(`
[persistence]
type = "buntdb"
dsn = ":memory:"

[[auth.oidc]]
name = "google"
client_id = "abc"
provider_url = "https://accounts.google.com"
`), 0o600))

	cfg, err := ReadConfiguration(dir, GetFlagSet())
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 3, cfg.RateLimitConfig.DJ.MaxMessages)
	assert.Equal(t, 2*time.Second, cfg.RateLimitConfig.DJ.Window)
	assert.Equal(t, 5, cfg.RateLimitConfig.Default.MaxMessages)
	assert.Equal(t, PersistenceBuntDB, cfg.PersistenceConfig.Type)
	require.Len(t, cfg.AuthConfig.OIDCConfigs, 1)
	assert.Equal(t, "google", cfg.AuthConfig.OIDCConfigs[0].Name)
}

func TestReadConfigurationFlags(t *testing.T) {
	flagSet := GetFlagSet()
	require.NoError(t, flagSet.Parse([]string{"--addr", ":9999", "--log-level", "WARN"}))
	cfg, err := ReadConfiguration("", flagSet)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "WARN", cfg.LogLevel)
}

func TestReadConfigurationEnv(t *testing.T) {
	t.Setenv("LIVECHAT_TYPING_IDLE_TIMEOUT", "3s")
	cfg, err := ReadConfiguration("", nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.TypingConfig.IdleTimeout)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.RateLimitConfig.Admin.Window = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.PersistenceConfig.Type = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.HistoryConfig.MaxLimit = 10
	assert.Error(t, cfg.Validate())
}
