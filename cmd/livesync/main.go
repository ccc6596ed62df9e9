package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.livesync/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default"`
	Sync    ConfigSync    `toml:"sync"`
	Log     ConfigLog     `toml:"log"`
}

// ConfigDefault identifies the service and the viewer.
type ConfigDefault struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
	UserID  string `toml:"user_id"`
}

// ConfigSync tunes the sync engine.
type ConfigSync struct {
	PageSize          int    `toml:"page_size"`
	ReconnectDelay    string `toml:"reconnect_delay"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
}

// ConfigLog selects the log level and format (text or json).
type ConfigLog struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.livesync, creating it if needed.
// LIVESYNC_HOME overrides the location.
func configDir() (string, error) {
	dir := envString("LIVESYNC_HOME", "")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".livesync")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the full path to the config file.
func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.user_id").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.user_id)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "token":
			cfg.Default.Token = value
		case "user_id":
			cfg.Default.UserID = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "sync":
		switch field {
		case "page_size":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return fmt.Errorf("page_size must be a positive integer, got %q", value)
			}
			cfg.Sync.PageSize = n
		case "reconnect_delay", "heartbeat_interval":
			if d, err := time.ParseDuration(value); err != nil || d <= 0 {
				return fmt.Errorf("%s must be a positive duration such as 2s, got %q", field, value)
			}
			if field == "reconnect_delay" {
				cfg.Sync.ReconnectDelay = value
			} else {
				cfg.Sync.HeartbeatInterval = value
			}
		default:
			return fmt.Errorf("unknown field %q in section [sync]", field)
		}
	case "log":
		switch field {
		case "level":
			cfg.Log.Level = value
		case "format":
			if value != "text" && value != "json" {
				return fmt.Errorf("log format must be text or json, got %q", value)
			}
			cfg.Log.Format = value
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, sync, log)", section)
	}
	return nil
}

// applyEnv overlays LIVESYNC_* environment variables on cfg.
func applyEnv(cfg *Config) {
	cfg.Default.BaseURL = envString("LIVESYNC_BASE_URL", cfg.Default.BaseURL)
	cfg.Default.Token = envString("LIVESYNC_TOKEN", cfg.Default.Token)
	cfg.Default.UserID = envString("LIVESYNC_USER_ID", cfg.Default.UserID)
	cfg.Sync.PageSize = envInt("LIVESYNC_PAGE_SIZE", cfg.Sync.PageSize)
	cfg.Sync.ReconnectDelay = envString("LIVESYNC_RECONNECT_DELAY", cfg.Sync.ReconnectDelay)
	cfg.Sync.HeartbeatInterval = envString("LIVESYNC_HEARTBEAT_INTERVAL", cfg.Sync.HeartbeatInterval)
	cfg.Log.Level = envString("LIVESYNC_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString("LIVESYNC_LOG_FORMAT", cfg.Log.Format)
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// parseDuration reads an optional duration setting; empty or invalid values
// fall back to def.
func parseDuration(v string, def time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ============================================================================
// Root command
// ============================================================================

var (
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "livesync",
	Short: "Live chat and game sync CLI",
	Long:  "Command-line client for the live chat and game sync engine.\nWatch conversations, page history, send messages and follow games.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load(".env")
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: text or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
