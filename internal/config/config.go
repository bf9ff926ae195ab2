package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Defaults returns a Config with every knob at its built-in default.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "drover",
			LogLevel: "INFO",
		},
		State: StateConfig{
			Path: "drover.db",
		},
		Server: ServerConfig{
			Listen:            "127.0.0.1:8003",
			MaxSessions:       100,
			HeartbeatInterval: 20 * time.Second,
		},
		Predict: PredictConfig{
			StallRatio:         0.5,
			MinStall:           30 * time.Second,
			MaxStall:           600 * time.Second,
			HistoryTTL:         7 * 24 * time.Hour,
			HistoryCap:         100,
			LoadThreshold:      14.0,
			LoadMultiplier:     3.0,
			BaselineMultiplier: 3.0,
			Tiers:              DefaultTiers(),
		},
		Process: ProcessConfig{
			MaxTimeout: time.Hour,
			BufferCap:  8 * 1024 * 1024,
		},
		Worker: WorkerConfig{
			PollInterval:     time.Second,
			WorkspaceDir:     "workspaces",
			MaxFileBytes:     1024 * 1024,
			MaxTotalBytes:    10 * 1024 * 1024,
			ExecutionTimeout: 300 * time.Second,
		},
	}
}

// DefaultTiers returns the static expected/max seconds per complexity tier,
// before the baseline multiplier is applied.
func DefaultTiers() map[string]TierDefaults {
	return map[string]TierDefaults{
		"trivial": {Expected: 5, Max: 15},
		"low":     {Expected: 20, Max: 60},
		"simple":  {Expected: 10, Max: 30},
		"medium":  {Expected: 60, Max: 180},
		"high":    {Expected: 120, Max: 360},
		"complex": {Expected: 180, Max: 600},
		"extreme": {Expected: 300, Max: 900},
	}
}

// Load reads and parses configuration from a YAML file, expanding ${ENV}
// references, then layers environment-variable overrides and defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults plus environment overrides, with no
// file involved. Used by the worker entrypoint in container deployments.
func FromEnv() *Config {
	cfg := Defaults()
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides layers DROVER_* environment knobs over the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DROVER_LOG_LEVEL"); v != "" {
		cfg.Service.LogLevel = v
	}
	if v := os.Getenv("DROVER_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("DROVER_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if d, ok := envDuration("DROVER_HEARTBEAT_INTERVAL"); ok {
		cfg.Server.HeartbeatInterval = d
	}
	if f, ok := envFloat("DROVER_STALL_RATIO"); ok {
		cfg.Predict.StallRatio = f
	}
	if d, ok := envSeconds("DROVER_MIN_STALL_SECS"); ok {
		cfg.Predict.MinStall = d
	}
	if d, ok := envSeconds("DROVER_MAX_STALL_SECS"); ok {
		cfg.Predict.MaxStall = d
	}
	if d, ok := envDuration("DROVER_HISTORY_TTL"); ok {
		cfg.Predict.HistoryTTL = d
	}
	if f, ok := envFloat("DROVER_LOAD_THRESHOLD"); ok {
		cfg.Predict.LoadThreshold = f
	}
	if f, ok := envFloat("DROVER_LOAD_MULTIPLIER"); ok {
		cfg.Predict.LoadMultiplier = f
	}
	if d, ok := envSeconds("DROVER_EXECUTION_TIMEOUT_SECS"); ok {
		cfg.Worker.ExecutionTimeout = d
	}
	if v := os.Getenv("DROVER_WORKSPACE_DIR"); v != "" {
		cfg.Worker.WorkspaceDir = v
	}

	// Per-tier overrides: DROVER_TIER_<COMPLEXITY>="expected:max" in seconds.
	for tier := range DefaultTiers() {
		key := "DROVER_TIER_" + strings.ToUpper(tier)
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		var expected, max float64
		if _, err := fmt.Sscanf(v, "%f:%f", &expected, &max); err == nil {
			if cfg.Predict.Tiers == nil {
				cfg.Predict.Tiers = DefaultTiers()
			}
			cfg.Predict.Tiers[tier] = TierDefaults{Expected: expected, Max: max}
		}
	}
}

func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = def.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.State.Path == "" {
		cfg.State.Path = def.State.Path
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = def.Server.Listen
	}
	if cfg.Server.MaxSessions <= 0 {
		cfg.Server.MaxSessions = def.Server.MaxSessions
	}
	if cfg.Server.HeartbeatInterval <= 0 {
		cfg.Server.HeartbeatInterval = def.Server.HeartbeatInterval
	}
	if cfg.Predict.StallRatio <= 0 {
		cfg.Predict.StallRatio = def.Predict.StallRatio
	}
	if cfg.Predict.MinStall <= 0 {
		cfg.Predict.MinStall = def.Predict.MinStall
	}
	if cfg.Predict.MaxStall <= 0 {
		cfg.Predict.MaxStall = def.Predict.MaxStall
	}
	if cfg.Predict.HistoryTTL <= 0 {
		cfg.Predict.HistoryTTL = def.Predict.HistoryTTL
	}
	if cfg.Predict.HistoryCap <= 0 {
		cfg.Predict.HistoryCap = def.Predict.HistoryCap
	}
	if cfg.Predict.LoadThreshold <= 0 {
		cfg.Predict.LoadThreshold = def.Predict.LoadThreshold
	}
	if cfg.Predict.LoadMultiplier <= 0 {
		cfg.Predict.LoadMultiplier = def.Predict.LoadMultiplier
	}
	if cfg.Predict.BaselineMultiplier <= 0 {
		cfg.Predict.BaselineMultiplier = def.Predict.BaselineMultiplier
	}
	if len(cfg.Predict.Tiers) == 0 {
		cfg.Predict.Tiers = DefaultTiers()
	}
	if cfg.Process.MaxTimeout <= 0 {
		cfg.Process.MaxTimeout = def.Process.MaxTimeout
	}
	if cfg.Process.BufferCap <= 0 {
		cfg.Process.BufferCap = def.Process.BufferCap
	}
	if cfg.Worker.PollInterval <= 0 {
		cfg.Worker.PollInterval = def.Worker.PollInterval
	}
	if cfg.Worker.WorkspaceDir == "" {
		cfg.Worker.WorkspaceDir = def.Worker.WorkspaceDir
	}
	if cfg.Worker.MaxFileBytes <= 0 {
		cfg.Worker.MaxFileBytes = def.Worker.MaxFileBytes
	}
	if cfg.Worker.MaxTotalBytes <= 0 {
		cfg.Worker.MaxTotalBytes = def.Worker.MaxTotalBytes
	}
	if cfg.Worker.ExecutionTimeout <= 0 {
		cfg.Worker.ExecutionTimeout = def.Worker.ExecutionTimeout
	}
}

func validate(cfg *Config) error {
	if cfg.Predict.MinStall > cfg.Predict.MaxStall {
		return fmt.Errorf("predict.min_stall (%v) exceeds predict.max_stall (%v)",
			cfg.Predict.MinStall, cfg.Predict.MaxStall)
	}
	if cfg.Predict.StallRatio <= 0 || cfg.Predict.StallRatio > 1 {
		return fmt.Errorf("predict.stall_ratio must be in (0,1], got %v", cfg.Predict.StallRatio)
	}
	for tier, td := range cfg.Predict.Tiers {
		if td.Expected <= 0 || td.Max <= 0 {
			return fmt.Errorf("predict.tiers.%s: expected and max must be positive", tier)
		}
		if td.Max < td.Expected {
			return fmt.Errorf("predict.tiers.%s: max (%v) below expected (%v)", tier, td.Max, td.Expected)
		}
	}
	if cfg.Worker.MaxFileBytes > cfg.Worker.MaxTotalBytes {
		return fmt.Errorf("worker.max_file_bytes (%d) exceeds worker.max_total_bytes (%d)",
			cfg.Worker.MaxFileBytes, cfg.Worker.MaxTotalBytes)
	}
	return nil
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envSeconds(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
