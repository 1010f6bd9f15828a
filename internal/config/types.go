package config

import "time"

// ConnectionConfig tunes the connection manager.
type ConnectionConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffCap           time.Duration `yaml:"backoff_cap"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	ReadyTimeout         time.Duration `yaml:"ready_timeout"`
}

// ApprovalConfig tunes the auto-approve countdown.
type ApprovalConfig struct {
	Countdown time.Duration `yaml:"countdown"`
	Tick      time.Duration `yaml:"tick"`
}

// CacheConfig bounds the client-side session state.
type CacheConfig struct {
	HistoryCapacity int `yaml:"history_capacity"`
	MaxSessions     int `yaml:"max_sessions"`
}

// LoggingConfig selects log verbosity and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig configures the scripted backend.
type ServerConfig struct {
	Port      int           `yaml:"port"`
	StepDelay time.Duration `yaml:"step_delay"`
}

// Config represents the .novelsync/config.yaml file.
type Config struct {
	URL         string           `yaml:"url"`
	Connection  ConnectionConfig `yaml:"connection"`
	Approval    ApprovalConfig   `yaml:"approval"`
	Cache       CacheConfig      `yaml:"cache"`
	Logging     LoggingConfig    `yaml:"logging"`
	SnapshotDir string           `yaml:"snapshot_dir"`
	Server      ServerConfig     `yaml:"server"`
}
