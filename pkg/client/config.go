package client

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the client config file
type TOMLConfig struct {
	Connection ConnectionSection `toml:"connection"`
	Local      LocalSection      `toml:"local"`
	Chat       ChatSection       `toml:"chat"`
	Logging    LoggingSection    `toml:"logging"`
}

type ConnectionSection struct {
	DefaultServer string `toml:"default_server"`
	DefaultPort   int    `toml:"default_port"`
}

type LocalSection struct {
	StateDB       string `toml:"state_db"`
	Nickname      string `toml:"nickname"`
	DiscoveryPort int    `toml:"discovery_port"`
	ChatPort      int    `toml:"chat_port"` // 0 picks a free port
}

type ChatSection struct {
	HandshakeTimeoutSeconds int  `toml:"handshake_timeout_seconds"`
	StrictHandshake         bool `toml:"strict_handshake"`
	Notifications           bool `toml:"notifications"`
}

type LoggingSection struct {
	Level string `toml:"level"`
}

// ConfigError represents a structured configuration error
type ConfigError struct {
	Path       string
	Message    string
	LineNumber int // 0 if not a parse error
}

func (e *ConfigError) Error() string {
	if e.LineNumber > 0 {
		return fmt.Sprintf("%s (line %d)", e.Message, e.LineNumber)
	}
	return e.Message
}

// getXDGConfigHome returns the XDG config directory
func getXDGConfigHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// getXDGDataHome returns the XDG data directory
func getXDGDataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share")
}

// DefaultConfigPath returns the default client config location
func DefaultConfigPath() string {
	return filepath.Join(getXDGConfigHome(), "peerchat", "config.toml")
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Connection: ConnectionSection{
			DefaultServer: "127.0.0.1",
			DefaultPort:   12345,
		},
		Local: LocalSection{
			StateDB:       filepath.Join(getXDGDataHome(), "peerchat", "state.db"),
			DiscoveryPort: 5000,
		},
		Chat: ChatSection{
			HandshakeTimeoutSeconds: int(DefaultHandshakeTimeout / time.Second),
			Notifications:           true,
		},
		Logging: LoggingSection{
			Level: "warn",
		},
	}
}

// LoadClientConfig loads configuration from a TOML file, creates default if not found
func LoadClientConfig(path string) (TOMLConfig, error) {
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
		return TOMLConfig{}, &ConfigError{
			Path:       path,
			Message:    cleanErrorMessage(err.Error()),
			LineNumber: extractLineNumber(err.Error()),
		}
	}

	if err := validateConfig(&config); err != nil {
		return TOMLConfig{}, &ConfigError{
			Path:    path,
			Message: err.Error(),
		}
	}

	return config, nil
}

var lineNumberRe = regexp.MustCompile(`line (\d+)`)

// extractLineNumber tries to extract a line number from a TOML parse error
func extractLineNumber(errMsg string) int {
	matches := lineNumberRe.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num
		}
	}
	return 0
}

// cleanErrorMessage removes redundant parts from error messages
func cleanErrorMessage(errMsg string) string {
	return strings.TrimPrefix(errMsg, "toml: ")
}

// validateConfig validates configuration values
func validateConfig(config *TOMLConfig) error {
	var errors []string

	if config.Connection.DefaultPort < 1 || config.Connection.DefaultPort > 65535 {
		errors = append(errors, fmt.Sprintf("Invalid port number: %d (must be 1-65535)", config.Connection.DefaultPort))
	}
	if config.Local.DiscoveryPort < 0 || config.Local.DiscoveryPort > 65535 {
		errors = append(errors, fmt.Sprintf("Invalid discovery port: %d (must be 0-65535)", config.Local.DiscoveryPort))
	}
	if config.Local.ChatPort < 0 || config.Local.ChatPort > 65535 {
		errors = append(errors, fmt.Sprintf("Invalid chat port: %d (must be 0-65535)", config.Local.ChatPort))
	}
	if config.Chat.HandshakeTimeoutSeconds < 1 {
		errors = append(errors, "Handshake timeout must be at least 1 second")
	}
	if strings.TrimSpace(config.Local.StateDB) == "" {
		errors = append(errors, "State database path cannot be empty")
	}
	if strings.ContainsAny(config.Local.Nickname, "\r\n") {
		errors = append(errors, "Nickname cannot contain line breaks")
	}

	if len(errors) > 0 {
		return fmt.Errorf("Configuration validation failed:\n  • %s", strings.Join(errors, "\n  • "))
	}
	return nil
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

	header := `# PeerChat Client Configuration
# This file was auto-generated with default values
# Edit as needed - changes take effect on next client start

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
	if v := getenv("PEERCHAT_SERVER"); v != "" {
		c.Connection.DefaultServer = v
	}
	if v := getenv("PEERCHAT_NICKNAME"); v != "" {
		c.Local.Nickname = v
	}
	for key, dst := range map[string]*int{
		"PEERCHAT_DISCOVERY_PORT": &c.Local.DiscoveryPort,
		"PEERCHAT_CHAT_PORT":      &c.Local.ChatPort,
	} {
		v := getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}
	if v := getenv("PEERCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// GetStateDBPath returns the state database path with ~ expanded
func (c *TOMLConfig) GetStateDBPath() (string, error) {
	return expandHome(c.Local.StateDB)
}

// GetServerAddress returns the full server address (host:port or a URL)
func (c *TOMLConfig) GetServerAddress() string {
	server := strings.TrimSpace(c.Connection.DefaultServer)
	if server == "" {
		return ""
	}

	if strings.Contains(server, "://") {
		return server
	}
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}

	port := c.Connection.DefaultPort
	if port <= 0 {
		return server
	}
	return fmt.Sprintf("%s:%d", server, port)
}

// HandshakeTimeout returns the configured chat request timeout
func (c *TOMLConfig) HandshakeTimeout() time.Duration {
	if c.Chat.HandshakeTimeoutSeconds <= 0 {
		return DefaultHandshakeTimeout
	}
	return time.Duration(c.Chat.HandshakeTimeoutSeconds) * time.Second
}

// ResetConfigToDefault resets the config file to default values.
// If backup is true, the old file is copied aside with a date suffix.
func ResetConfigToDefault(path string, backup bool) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	if backup {
		backupPath := fmt.Sprintf("%s.backup-%s", path, time.Now().Format("2006-01-02"))
		if err := copyFile(path, backupPath); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
	}

	if err := writeDefaultConfig(path, DefaultTOMLConfig()); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
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
