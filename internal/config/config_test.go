package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
service:
  log_level: DEBUG
state:
  path: ./test.db
server:
  listen: 127.0.0.1:9000
  max_sessions: 5
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "DEBUG" {
					t.Error("log_level not parsed")
				}
				if cfg.State.Path != "./test.db" {
					t.Error("state.path not parsed")
				}
				if cfg.Server.Listen != "127.0.0.1:9000" {
					t.Error("server.listen not parsed")
				}
				if cfg.Server.MaxSessions != 5 {
					t.Error("server.max_sessions not parsed")
				}
				// Defaults applied for unset sections.
				if cfg.Predict.StallRatio != 0.5 {
					t.Errorf("default stall_ratio not applied: %v", cfg.Predict.StallRatio)
				}
				if cfg.Worker.ExecutionTimeout != 300*time.Second {
					t.Errorf("default execution_timeout not applied: %v", cfg.Worker.ExecutionTimeout)
				}
				if len(cfg.Predict.Tiers) == 0 {
					t.Error("default tiers not applied")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
state:
  path: ${DROVER_TEST_DB_PATH}
`,
			env: map[string]string{"DROVER_TEST_DB_PATH": "/tmp/interp.db"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.State.Path != "/tmp/interp.db" {
					t.Errorf("env interpolation failed: %q", cfg.State.Path)
				}
			},
		},
		{
			name: "env override wins over file",
			yaml: `
service:
  log_level: INFO
`,
			env: map[string]string{"DROVER_LOG_LEVEL": "ERROR"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "ERROR" {
					t.Errorf("env override not applied: %q", cfg.Service.LogLevel)
				}
			},
		},
		{
			name: "tier override",
			yaml: ``,
			env:  map[string]string{"DROVER_TIER_SIMPLE": "15:45"},
			checkFn: func(t *testing.T, cfg *Config) {
				td := cfg.Predict.Tiers["simple"]
				if td.Expected != 15 || td.Max != 45 {
					t.Errorf("tier override not applied: %+v", td)
				}
			},
		},
		{
			name: "stall ratio out of range",
			yaml: `
predict:
  stall_ratio: 1.5
`,
			wantErr: true,
		},
		{
			name: "min stall above max stall",
			yaml: `
predict:
  min_stall: 20m
  max_stall: 1m
`,
			wantErr: true,
		},
		{
			name: "tier max below expected",
			yaml: `
predict:
  tiers:
    simple:
      expected: 100
      max: 10
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DROVER_LISTEN", "0.0.0.0:8100")
	t.Setenv("DROVER_EXECUTION_TIMEOUT_SECS", "120")

	cfg := FromEnv()
	if cfg.Server.Listen != "0.0.0.0:8100" {
		t.Errorf("listen override not applied: %q", cfg.Server.Listen)
	}
	if cfg.Worker.ExecutionTimeout != 120*time.Second {
		t.Errorf("execution timeout override not applied: %v", cfg.Worker.ExecutionTimeout)
	}
	if cfg.State.Path != "drover.db" {
		t.Errorf("default state path missing: %q", cfg.State.Path)
	}
}
