package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	cfgDir := filepath.Join(dir, DirName)
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(content), 0o644))
}

func TestLoadConfig_Default(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()

	cfg, err := LoadConfig(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, DefaultURL, cfg.URL)
	assert.Equal(t, DefaultConnection(), cfg.Connection)
	assert.Equal(t, DefaultCountdown, cfg.Approval.Countdown)
	assert.Equal(t, DefaultCountdownTick, cfg.Approval.Tick)
	assert.Equal(t, DefaultHistoryCapacity, cfg.Cache.HistoryCapacity)
	assert.Equal(t, DefaultMaxSessions, cfg.Cache.MaxSessions)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, filepath.Join(tmpDir, DirName), cfg.SnapshotDir)
	assert.Equal(t, DefaultServerConfig(), cfg.Server)
}

func TestLoadConfig_ValidFile(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `url: wss://novels.example.com/ws
connection:
  heartbeat_interval: 5s
  backoff_base: 500ms
  backoff_cap: 20s
  max_reconnect_attempts: 8
  dial_timeout: 3s
  ready_timeout: 7s
approval:
  countdown: 30s
  tick: 250ms
cache:
  history_capacity: 25
  max_sessions: 4
logging:
  level: debug
  format: json
snapshot_dir: /var/lib/novelsync
server:
  port: 9100
  step_delay: 50ms
`)

	cfg, err := LoadConfig(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "wss://novels.example.com/ws", cfg.URL)
	assert.Equal(t, ConnectionConfig{
		HeartbeatInterval:    5 * time.Second,
		BackoffBase:          500 * time.Millisecond,
		BackoffCap:           20 * time.Second,
		MaxReconnectAttempts: 8,
		DialTimeout:          3 * time.Second,
		ReadyTimeout:         7 * time.Second,
	}, cfg.Connection)
	assert.Equal(t, ApprovalConfig{Countdown: 30 * time.Second, Tick: 250 * time.Millisecond}, cfg.Approval)
	assert.Equal(t, CacheConfig{HistoryCapacity: 25, MaxSessions: 4}, cfg.Cache)
	assert.Equal(t, LoggingConfig{Level: "debug", Format: "json"}, cfg.Logging)
	assert.Equal(t, "/var/lib/novelsync", cfg.SnapshotDir)
	assert.Equal(t, ServerConfig{Port: 9100, StepDelay: 50 * time.Millisecond}, cfg.Server)
}

func TestLoadConfig_PartialFile(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	// Only set the countdown, rest should keep defaults
	writeConfig(t, tmpDir, `approval:
  countdown: 15s
`)

	cfg, err := LoadConfig(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Approval.Countdown)
	assert.Equal(t, DefaultCountdownTick, cfg.Approval.Tick)
	assert.Equal(t, DefaultURL, cfg.URL)
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.Connection.MaxReconnectAttempts)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, "url: [unclosed")

	_, err := LoadConfig(tmpDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"http url", "url: http://localhost:8000/ws", "url"},
		{"zero heartbeat", "connection:\n  heartbeat_interval: 0s", "connection.heartbeat_interval"},
		{"cap below base", "connection:\n  backoff_base: 5s\n  backoff_cap: 1s", "connection.backoff_cap"},
		{"negative attempts", "connection:\n  max_reconnect_attempts: -1", "connection.max_reconnect_attempts"},
		{"zero countdown", "approval:\n  countdown: 0s", "approval.countdown"},
		{"zero history", "cache:\n  history_capacity: 0", "cache.history_capacity"},
		{"zero sessions", "cache:\n  max_sessions: 0", "cache.max_sessions"},
		{"bad level", "logging:\n  level: loud", "logging.level"},
		{"bad format", "logging:\n  format: xml", "logging.format"},
		{"bad port", "server:\n  port: 70000", "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tmpDir := t.TempDir()
			writeConfig(t, tmpDir, tt.content)

			_, err := LoadConfig(tmpDir)
			require.Error(t, err)
			require.True(t, IsValidationError(err), err)

			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "novelsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: ws://backend:9000/ws\n"), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://backend:9000/ws", cfg.URL)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvURL:      "wss://remote/ws",
		EnvLogLevel: "error",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(&cfg, lookup))
	assert.Equal(t, "wss://remote/ws", cfg.URL)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)

	env[EnvURL] = "ftp://nope"
	cfg = DefaultConfig()
	err := ApplyEnv(&cfg, lookup)
	assert.True(t, IsValidationError(err))
}

func TestEnvLookup(t *testing.T) {
	t.Setenv("NOVELSYNC_TEST_FROM_PROCESS", "process")

	lookup := EnvLookup(map[string]string{
		"NOVELSYNC_TEST_FROM_PROCESS": "file",
		"NOVELSYNC_TEST_FROM_FILE":    "file",
	})

	v, ok := lookup("NOVELSYNC_TEST_FROM_PROCESS")
	assert.True(t, ok)
	assert.Equal(t, "process", v)

	v, ok = lookup("NOVELSYNC_TEST_FROM_FILE")
	assert.True(t, ok)
	assert.Equal(t, "file", v)

	_, ok = lookup("NOVELSYNC_TEST_UNSET")
	assert.False(t, ok)
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	cfgDir := filepath.Join(dir, DirName)
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, ".env"), []byte(content), 0o644))
}

func TestLoadEnvFile_Valid(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeEnvFile(t, tmpDir, `# backend
NOVELSYNC_URL="ws://studio:8000/ws"
NOVELSYNC_LOG_LEVEL='debug'

TOKEN=a=b=c
EMPTY=
`)

	env, err := LoadEnvFile(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"NOVELSYNC_URL":       "ws://studio:8000/ws",
		"NOVELSYNC_LOG_LEVEL": "debug",
		"TOKEN":               "a=b=c",
		"EMPTY":               "",
	}, env)
}

func TestLoadEnvFile_NotFound(t *testing.T) {
	t.Parallel()

	env, err := LoadEnvFile(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, env)
}

func TestLoadEnvFile_InvalidFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing equals", "NOVELSYNC_URL\n", "missing '='"},
		{"empty key", "=value\n", "empty key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tmpDir := t.TempDir()
			writeEnvFile(t, tmpDir, tt.content)

			_, err := LoadEnvFile(tmpDir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	err := ValidationError{Field: "url", Message: "must be a valid URL"}
	assert.Equal(t, "validation error: url: must be a valid URL", err.Error())
}
