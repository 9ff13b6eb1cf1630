package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# PeerChat Rendezvous Server Configuration")
	assert.Contains(t, string(data), "port = 12345")

	// Second load reads the file it wrote
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 4000

[logging]
level = "debug"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Address, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Encoding)
}

func TestLoadConfigRejectsInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0o644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PEERCHAT_SERVER_ADDRESS": "127.0.0.1",
		"PEERCHAT_SERVER_PORT":    "4100",
		"PEERCHAT_HTTP_ADDRESS":   "off",
		"PEERCHAT_LOG_LEVEL":      "warn",
	}
	cfg := DefaultTOMLConfig()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "127.0.0.1", cfg.Server.Address)
	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Empty(t, cfg.HTTP.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)

	sc := cfg.ToServerConfig()
	assert.Equal(t, ServerConfig{Address: "127.0.0.1", Port: 4100}, sc)
}

func TestApplyEnvInvalidPort(t *testing.T) {
	cfg := DefaultTOMLConfig()
	err := cfg.ApplyEnv(func(k string) string {
		if k == "PEERCHAT_SERVER_PORT" {
			return "twelve"
		}
		return ""
	})
	assert.ErrorContains(t, err, "PEERCHAT_SERVER_PORT")
}

func TestToServerConfigFallsBackToDefaults(t *testing.T) {
	cfg := TOMLConfig{HTTP: HTTPSection{Address: " 127.0.0.1:9000 "}}
	sc := cfg.ToServerConfig()

	assert.Equal(t, DefaultConfig().Address, sc.Address)
	assert.Equal(t, DefaultConfig().Port, sc.Port)
	assert.Equal(t, "127.0.0.1:9000", sc.HTTPAddress)
}
