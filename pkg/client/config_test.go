package client

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientConfigWritesDefault(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "peerchat", "config.toml")

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# PeerChat Client Configuration")
	assert.Contains(t, string(data), "[connection]")

	again, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadClientConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[connection]
default_server = "chat.example.com"
default_port = 4000

[local]
state_db = "/tmp/peerchat-test.db"
nickname = "alice"
chat_port = 7001

[chat]
handshake_timeout_seconds = 3
strict_handshake = true
`), 0644))

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "chat.example.com:4000", cfg.GetServerAddress())
	assert.Equal(t, "alice", cfg.Local.Nickname)
	assert.Equal(t, 7001, cfg.Local.ChatPort)
	assert.Equal(t, 5000, cfg.Local.DiscoveryPort, "unset keys keep defaults")
	assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout())
	assert.True(t, cfg.Chat.StrictHandshake)
	assert.True(t, cfg.Chat.Notifications)
}

func TestLoadClientConfigParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[connection]\ndefault_port = \"nope\n"), 0644))

	_, err := LoadClientConfig(path)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Equal(t, path, cfgErr.Path)
}

func TestLoadClientConfigValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[connection]
default_port = 70000

[chat]
handshake_timeout_seconds = 0
`), 0644))

	_, err := LoadClientConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid port number: 70000")
	assert.Contains(t, err.Error(), "Handshake timeout must be at least 1 second")
}

func TestClientApplyEnv(t *testing.T) {
	cfg := DefaultTOMLConfig()
	env := map[string]string{
		"PEERCHAT_SERVER":         "ws://chat.example.com",
		"PEERCHAT_NICKNAME":       "bob",
		"PEERCHAT_DISCOVERY_PORT": "6000",
		"PEERCHAT_CHAT_PORT":      "7002",
		"PEERCHAT_LOG_LEVEL":      "debug",
	}
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "ws://chat.example.com", cfg.GetServerAddress())
	assert.Equal(t, "bob", cfg.Local.Nickname)
	assert.Equal(t, 6000, cfg.Local.DiscoveryPort)
	assert.Equal(t, 7002, cfg.Local.ChatPort)
	assert.Equal(t, "debug", cfg.Logging.Level)

	env = map[string]string{"PEERCHAT_CHAT_PORT": "lots"}
	assert.Error(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
}

func TestGetServerAddress(t *testing.T) {
	cfg := DefaultTOMLConfig()
	assert.Equal(t, "127.0.0.1:12345", cfg.GetServerAddress())

	cfg.Connection.DefaultServer = "10.0.0.1:999"
	assert.Equal(t, "10.0.0.1:999", cfg.GetServerAddress())

	cfg.Connection.DefaultServer = "  "
	assert.Empty(t, cfg.GetServerAddress())
}

func TestResetConfigToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[local]\nnickname = \"old\"\n"), 0644))

	require.NoError(t, ResetConfigToDefault(path, true))

	matches, err := filepath.Glob(path + ".backup-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	backup, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(backup), `nickname = "old"`)

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Local.Nickname)
}
