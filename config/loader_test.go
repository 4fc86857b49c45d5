package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Defaults ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8790", cfg.Server.Addr)
	assert.Equal(t, "local", cfg.Engine.Mode)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Engine.Runtime.BaseURL)
	assert.Equal(t, 50, cfg.Page.Agent.MaxItems)
	assert.Equal(t, 3072, cfg.Orchestrator.PromptBudget)
	assert.Equal(t, "mailmind-history.db", cfg.History.Path)
	assert.Equal(t, "mailmind:", cfg.Flags.KeyPrefix)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

// --- File loading ---

func TestLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailmind.yaml")
	yaml := `
server:
  addr: "127.0.0.1:9999"
engine:
  mode: offscreen
  offscreen:
    url: "ws://127.0.0.1:7000/host"
orchestrator:
  prompt_budget: 2048
  request_timeout: 90s
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, "offscreen", cfg.Engine.Mode)
	assert.Equal(t, "ws://127.0.0.1:7000/host", cfg.Engine.Offscreen.URL)
	assert.Equal(t, 2048, cfg.Orchestrator.PromptBudget)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.RequestTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Page.Agent.MaxItems)
	assert.Equal(t, 200, cfg.History.MaxMessages)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/does/not/exist.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8790", cfg.Server.Addr)
}

func TestLoader_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

// --- Env overrides ---

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("MAILMIND_SERVER_ADDR", "0.0.0.0:8080")
	t.Setenv("MAILMIND_ENGINE_RUNTIME_BASE_URL", "http://runtime:11434")
	t.Setenv("MAILMIND_ORCHESTRATOR_PROMPT_BUDGET", "1024")
	t.Setenv("MAILMIND_ORCHESTRATOR_REQUEST_TIMEOUT", "45s")
	t.Setenv("MAILMIND_TELEMETRY_ENABLED", "true")
	t.Setenv("MAILMIND_LOG_OUTPUT_PATHS", "stdout, /var/log/mailmind.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "http://runtime:11434", cfg.Engine.Runtime.BaseURL)
	assert.Equal(t, 1024, cfg.Orchestrator.PromptBudget)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator.RequestTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/mailmind.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailmind.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \"127.0.0.1:9999\"\n"), 0o600))
	t.Setenv("MAILMIND_SERVER_ADDR", "127.0.0.1:7777")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Server.Addr, "env beats file")
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("COPILOT_LOG_LEVEL", "warn")

	cfg, err := NewLoader().WithEnvPrefix("COPILOT").Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_BadEnvValue(t *testing.T) {
	t.Setenv("MAILMIND_ORCHESTRATOR_PROMPT_BUDGET", "lots")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAILMIND_ORCHESTRATOR_PROMPT_BUDGET")
}

// --- Validation ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad engine mode", func(c *Config) { c.Engine.Mode = "cloud" }, "engine.mode"},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"zero budget", func(c *Config) { c.Orchestrator.PromptBudget = 0 }, "prompt_budget"},
		{"temperature range", func(c *Config) { c.Orchestrator.Temperature = 3 }, "temperature"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"offscreen without url", func(c *Config) { c.Engine.Mode = "offscreen"; c.Engine.Offscreen.URL = "" }, "engine.offscreen.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoader_CustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.API.APIKey == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

// --- Logger ---

func TestConfig_BuildLogger(t *testing.T) {
	cfg := DefaultConfig()
	logger, err := cfg.BuildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)

	cfg.Log.Level = "not-a-level"
	_, err = cfg.BuildLogger()
	require.Error(t, err)
}

func TestMustLoad_PanicsOnBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: shouty\n"), 0o600))

	assert.Panics(t, func() { MustLoad(path) })
}
