package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server  ServerSection  `toml:"server"`
	HTTP    HTTPSection    `toml:"http"`
	Logging LoggingSection `toml:"logging"`
}

type ServerSection struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

type HTTPSection struct {
	// Address serves /metrics and /ws; empty disables the HTTP listener
	Address string `toml:"address"`
}

type LoggingSection struct {
	Level    string `toml:"level"`
	Encoding string `toml:"encoding"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Address: "0.0.0.0",
			Port:    12345,
		},
		HTTP: HTTPSection{
			Address: "127.0.0.1:9345",
		},
		Logging: LoggingSection{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Unwritable location, run with defaults anyway
			return config, nil
		}
		return config, nil
	}

	config := DefaultTOMLConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# PeerChat Rendezvous Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ApplyEnv overrides file values with PEERCHAT_* environment variables
func (c *TOMLConfig) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PEERCHAT_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := getenv("PEERCHAT_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PEERCHAT_SERVER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(getenv, "PEERCHAT_HTTP_ADDRESS"); ok {
		c.HTTP.Address = v
	}
	if v := getenv("PEERCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.Address) != "" {
		cfg.Address = c.Server.Address
	}
	if c.Server.Port != 0 {
		cfg.Port = c.Server.Port
	}
	cfg.HTTPAddress = strings.TrimSpace(c.HTTP.Address)

	return cfg
}

// lookup treats the literal value "off" as an explicit empty setting
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	if v == "" {
		return "", false
	}
	if strings.EqualFold(v, "off") {
		return "", true
	}
	return v, true
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
