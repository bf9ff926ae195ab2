package config

import "time"

// Config represents the complete drover configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Server  ServerConfig  `yaml:"server"`
	Predict PredictConfig `yaml:"predict"`
	Process ProcessConfig `yaml:"process"`
	Worker  WorkerConfig  `yaml:"worker"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines where the SQLite state database lives.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig defines the WebSocket execution service settings.
type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	MaxSessions       int           `yaml:"max_sessions"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// AllowedCommands is an optional prefix allow-list. Empty means any
	// command may be executed.
	AllowedCommands []string `yaml:"allowed_commands,omitempty"`
}

// TierDefaults holds the static expected/max seconds for one complexity tier.
type TierDefaults struct {
	Expected float64 `yaml:"expected"`
	Max      float64 `yaml:"max"`
}

// PredictConfig tunes the adaptive timeout engine.
type PredictConfig struct {
	StallRatio         float64       `yaml:"stall_ratio"`
	MinStall           time.Duration `yaml:"min_stall"`
	MaxStall           time.Duration `yaml:"max_stall"`
	HistoryTTL         time.Duration `yaml:"history_ttl"`
	HistoryCap         int           `yaml:"history_cap"`
	LoadThreshold      float64       `yaml:"load_threshold"`
	LoadMultiplier     float64       `yaml:"load_multiplier"`
	BaselineMultiplier float64       `yaml:"baseline_multiplier"`
	Tiers              map[string]TierDefaults `yaml:"tiers,omitempty"`
}

// ProcessConfig tunes process supervision.
type ProcessConfig struct {
	// MaxTimeout is the hard ceiling on any predicted or requested max_time.
	MaxTimeout time.Duration `yaml:"max_timeout"`
	// BufferCap bounds the in-memory output retained per process, in bytes.
	BufferCap int `yaml:"buffer_cap"`
}

// WorkerConfig tunes the queue-consumer worker.
type WorkerConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	WorkspaceDir     string        `yaml:"workspace_dir"`
	MaxFileBytes     int64         `yaml:"max_file_bytes"`
	MaxTotalBytes    int64         `yaml:"max_total_bytes"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
}
