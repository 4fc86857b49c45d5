package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/engine"
	"github.com/mailmind/mailmind/history"
	"github.com/mailmind/mailmind/internal/flagstore"
	"github.com/mailmind/mailmind/internal/server"
	"github.com/mailmind/mailmind/internal/telemetry"
	"github.com/mailmind/mailmind/orchestrator"
	"github.com/mailmind/mailmind/pageagent"
)

// =============================================================================
// Daemon configuration
// =============================================================================

// Config is the complete daemon configuration. Each section is the owning
// package's Config so a loaded file can be handed straight to the
// constructors.
type Config struct {
	Server       server.Config       `yaml:"server"`
	Engine       EngineConfig        `yaml:"engine"`
	Page         PageConfig          `yaml:"page"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	History      history.Config      `yaml:"history"`
	Flags        flagstore.Config    `yaml:"flags"`
	Telemetry    telemetry.Config    `yaml:"telemetry"`
	Log          LogConfig           `yaml:"log"`
	API          APIConfig           `yaml:"api"`
}

// EngineConfig selects and configures the inference engine backend.
type EngineConfig struct {
	// Mode is "local" (in-process runtime client) or "offscreen"
	// (proxy every call to a helper process over WebSocket).
	Mode string `yaml:"mode"`

	Runtime   engine.RuntimeConfig   `yaml:"runtime"`
	Offscreen engine.OffscreenConfig `yaml:"offscreen"`
}

// PageConfig configures the page automation agent and its browser driver.
type PageConfig struct {
	Agent  pageagent.Config       `yaml:"agent"`
	Driver pageagent.DriverConfig `yaml:"driver"`
}

// APIConfig covers the HTTP surface's cross-cutting settings.
type APIConfig struct {
	// APIKey, when set, is required on every /v1 request via X-API-Key.
	APIKey string `yaml:"api_key"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// MetricsAddr is the separate Prometheus listener; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// RequestTimeout bounds non-streaming handlers.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level            string   `yaml:"level"`  // debug, info, warn, error
	Format           string   `yaml:"format"` // json, console
	OutputPaths      []string `yaml:"output_paths"`
	EnableCaller     bool     `yaml:"enable_caller"`
	EnableStacktrace bool     `yaml:"enable_stacktrace"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: server.DefaultConfig(),
		Engine: EngineConfig{
			Mode:      "local",
			Runtime:   engine.DefaultRuntimeConfig(),
			Offscreen: engine.DefaultOffscreenConfig(),
		},
		Page: PageConfig{
			Agent:  pageagent.DefaultConfig(),
			Driver: pageagent.DefaultDriverConfig(),
		},
		Orchestrator: orchestrator.DefaultConfig(),
		History:      history.DefaultConfig(),
		Flags:        flagstore.DefaultConfig(),
		Telemetry:    telemetry.DefaultConfig(),
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		API: APIConfig{
			RateLimitRPS:   50,
			RateLimitBurst: 100,
			MetricsAddr:    "127.0.0.1:9791",
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	switch c.Engine.Mode {
	case "local", "offscreen":
	default:
		errs = append(errs, fmt.Sprintf("engine.mode must be local or offscreen, got %q", c.Engine.Mode))
	}
	if c.Engine.Mode == "local" && c.Engine.Runtime.BaseURL == "" {
		errs = append(errs, "engine.runtime.base_url must not be empty in local mode")
	}
	if c.Engine.Mode == "offscreen" && c.Engine.Offscreen.URL == "" {
		errs = append(errs, "engine.offscreen.url must not be empty in offscreen mode")
	}
	if c.Orchestrator.PromptBudget <= 0 {
		errs = append(errs, "orchestrator.prompt_budget must be positive")
	}
	if c.Orchestrator.Temperature < 0 || c.Orchestrator.Temperature > 2 {
		errs = append(errs, "orchestrator.temperature must be between 0 and 2")
	}
	if c.Page.Agent.MaxItems <= 0 {
		errs = append(errs, "page.agent.max_items must be positive")
	}
	if c.API.RateLimitRPS < 0 || c.API.RateLimitBurst < 0 {
		errs = append(errs, "api rate limit values must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug/info/warn/error", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BuildLogger constructs the zap logger described by the Log section.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var zcfg zap.Config
	if c.Log.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	if len(c.Log.OutputPaths) > 0 {
		zcfg.OutputPaths = c.Log.OutputPaths
	}
	zcfg.DisableCaller = !c.Log.EnableCaller
	zcfg.DisableStacktrace = !c.Log.EnableStacktrace

	return zcfg.Build()
}
