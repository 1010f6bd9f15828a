package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultURL                  = "ws://localhost:8000/ws"
	DefaultHeartbeatInterval    = 3 * time.Second
	DefaultBackoffBase          = 1 * time.Second
	DefaultBackoffCap           = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultDialTimeout          = 10 * time.Second
	DefaultReadyTimeout         = 10 * time.Second
	DefaultCountdown            = 10 * time.Second
	DefaultCountdownTick        = 1 * time.Second
	DefaultHistoryCapacity      = 10
	DefaultMaxSessions          = 64
	DefaultLogLevel             = "warn"
	DefaultLogFormat            = "text"
	DefaultServerPort           = 8000
	DefaultStepDelay            = 500 * time.Millisecond
)

// Environment variables that override file values.
const (
	EnvURL       = "NOVELSYNC_URL"
	EnvLogLevel  = "NOVELSYNC_LOG_LEVEL"
	EnvLogFormat = "NOVELSYNC_LOG_FORMAT"
)

// DirName is the per-project configuration directory.
const DirName = ".novelsync"

// DefaultConnection returns connection tunables with default values.
func DefaultConnection() ConnectionConfig {
	return ConnectionConfig{
		HeartbeatInterval:    DefaultHeartbeatInterval,
		BackoffBase:          DefaultBackoffBase,
		BackoffCap:           DefaultBackoffCap,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		DialTimeout:          DefaultDialTimeout,
		ReadyTimeout:         DefaultReadyTimeout,
	}
}

// DefaultServerConfig returns a ServerConfig with default values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:      DefaultServerPort,
		StepDelay: DefaultStepDelay,
	}
}

// DefaultConfig returns a Config with default values. SnapshotDir is left
// relative to the project directory.
func DefaultConfig() Config {
	return Config{
		URL:        DefaultURL,
		Connection: DefaultConnection(),
		Approval: ApprovalConfig{
			Countdown: DefaultCountdown,
			Tick:      DefaultCountdownTick,
		},
		Cache: CacheConfig{
			HistoryCapacity: DefaultHistoryCapacity,
			MaxSessions:     DefaultMaxSessions,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		SnapshotDir: DirName,
		Server:      DefaultServerConfig(),
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// LoadConfig reads .novelsync/config.yaml from basePath. A missing file
// yields the default config.
func LoadConfig(basePath string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(basePath, DirName, "config.yaml"), true)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(cfg.SnapshotDir) {
		cfg.SnapshotDir = filepath.Join(basePath, cfg.SnapshotDir)
	}
	return cfg, nil
}

// LoadConfigFile reads an explicit config file, which must exist.
func LoadConfigFile(path string) (*Config, error) {
	return loadFile(path, false)
}

func loadFile(path string, optional bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && optional {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides config values from the environment. lookup is usually
// os.LookupEnv, optionally layered over LoadEnvFile.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvURL); ok && v != "" {
		cfg.URL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		cfg.Logging.Format = v
	}
	return ValidateConfig(cfg)
}

// EnvLookup layers the process environment over file values.
func EnvLookup(file map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	u, err := url.Parse(cfg.URL)
	if cfg.URL == "" || err != nil {
		return ValidationError{Field: "url", Message: "must be a valid URL"}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return ValidationError{Field: "url", Message: "scheme must be ws or wss"}
	}

	c := cfg.Connection
	if c.HeartbeatInterval <= 0 {
		return ValidationError{Field: "connection.heartbeat_interval", Message: "must be positive"}
	}
	if c.BackoffBase <= 0 {
		return ValidationError{Field: "connection.backoff_base", Message: "must be positive"}
	}
	if c.BackoffCap < c.BackoffBase {
		return ValidationError{Field: "connection.backoff_cap", Message: "must not be less than backoff_base"}
	}
	if c.MaxReconnectAttempts < 0 {
		return ValidationError{Field: "connection.max_reconnect_attempts", Message: "must not be negative"}
	}
	if c.DialTimeout <= 0 {
		return ValidationError{Field: "connection.dial_timeout", Message: "must be positive"}
	}
	if c.ReadyTimeout <= 0 {
		return ValidationError{Field: "connection.ready_timeout", Message: "must be positive"}
	}

	if cfg.Approval.Countdown <= 0 {
		return ValidationError{Field: "approval.countdown", Message: "must be positive"}
	}
	if cfg.Approval.Tick < 0 {
		return ValidationError{Field: "approval.tick", Message: "must not be negative"}
	}
	if cfg.Cache.HistoryCapacity <= 0 {
		return ValidationError{Field: "cache.history_capacity", Message: "must be positive"}
	}
	if cfg.Cache.MaxSessions <= 0 {
		return ValidationError{Field: "cache.max_sessions", Message: "must be positive"}
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return ValidationError{Field: "logging.level", Message: "must be one of debug, info, warn, error"}
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return ValidationError{Field: "logging.format", Message: "must be text or json"}
	}

	return ValidateServerConfig(&cfg.Server)
}

// ValidateServerConfig checks that server config values are valid.
func ValidateServerConfig(cfg *ServerConfig) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return ValidationError{Field: "server.port", Message: "must be between 0 and 65535"}
	}
	if cfg.StepDelay < 0 {
		return ValidationError{Field: "server.step_delay", Message: "must not be negative"}
	}
	return nil
}

// LoadEnvFile parses .novelsync/.env into a map of key-value pairs.
// The file format is KEY=VALUE per line. Lines starting with # are comments.
// A missing file yields an empty map.
func LoadEnvFile(basePath string) (map[string]string, error) {
	envPath := filepath.Join(basePath, DirName, ".env")

	file, err := os.Open(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("invalid env file line %d: missing '='", lineNum)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if key == "" {
			return nil, fmt.Errorf("invalid env file line %d: empty key", lineNum)
		}
		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return env, nil
}
