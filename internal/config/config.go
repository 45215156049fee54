// Package config loads Arcadia Forge configuration from
// .arcadia/config.yaml with sane defaults and ARCADIA_* env overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Arcadia Forge configuration.
type Config struct {
	// Project name (informational).
	Name string `yaml:"name"`

	// LLM runtime configuration.
	LLM LLMConfig `yaml:"llm"`

	// Session supervisor settings.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Token/USD budget settings.
	Budget BudgetConfig `yaml:"budget"`

	// Autonomy manager settings.
	Autonomy AutonomyConfig `yaml:"autonomy"`

	// Security gate settings.
	Security SecurityConfig `yaml:"security"`

	// Tiered memory settings.
	Memory MemoryConfig `yaml:"memory"`

	// Checkpoint/VCS settings.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Human channel settings.
	Human HumanConfig `yaml:"human"`

	// Browser evidence capture.
	Browser BrowserConfig `yaml:"browser"`

	// Logging.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the LLM runtime adapter.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// SupervisorConfig configures the session loop and watchdog.
type SupervisorConfig struct {
	// StallTimeoutSeconds is how long without a TOOL_CALL before a session
	// is marked no_progress. Generous by default: browser automation
	// legitimately blocks.
	StallTimeoutSeconds int `yaml:"stall_timeout_seconds"`

	// CyclicThreshold is how many identical (feature, error) pairs within
	// the window mark a session cyclic.
	CyclicThreshold int `yaml:"cyclic_threshold"`

	// CyclicWindow is the rolling window size for cyclic detection.
	CyclicWindow int `yaml:"cyclic_window"`

	// StallSessionThreshold is how many consecutive no-progress sessions
	// trigger escalation to the human channel.
	StallSessionThreshold int `yaml:"stall_session_threshold"`

	// CooldownSeconds between sessions.
	CooldownSeconds int `yaml:"cooldown_seconds"`

	// MaxSessions caps the run (0 = unlimited).
	MaxSessions int `yaml:"max_sessions"`

	// WatchdogIntervalSeconds between watchdog sweeps.
	WatchdogIntervalSeconds int `yaml:"watchdog_interval_seconds"`

	// ToolHardTimeoutSeconds bounds draining the current tool on SIGTERM.
	ToolHardTimeoutSeconds int `yaml:"tool_hard_timeout_seconds"`
}

// BudgetConfig configures USD accounting per run.
type BudgetConfig struct {
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
	MaxBudgetUSD    float64 `yaml:"max_budget_usd"`
}

// AutonomyConfig configures the autonomy manager.
type AutonomyConfig struct {
	Level                 int     `yaml:"level"` // 1..5, default EXECUTE_SAFE
	MinLevel              int     `yaml:"min_level"`
	MaxLevel              int     `yaml:"max_level"`
	ConfidenceThreshold   float64 `yaml:"confidence_threshold"`
	ErrorDemotionCount    int     `yaml:"error_demotion_count"`
	SuccessPromotionCount int     `yaml:"success_promotion_count"`
	AutoAdjust            bool    `yaml:"auto_adjust"`
}

// SecurityConfig configures the command allowlist gate.
type SecurityConfig struct {
	// ExtraAllowedCommands extends the built-in platform allowlist.
	ExtraAllowedCommands []string `yaml:"extra_allowed_commands"`
}

// MemoryConfig configures the tiered memory layer.
type MemoryConfig struct {
	// WarmMaxSummaries is N in the Warm retention rule (default 5).
	WarmMaxSummaries int `yaml:"warm_max_summaries"`

	// ColdCompactionDays is how often Cold summaries-of-summaries run.
	ColdCompactionDays int `yaml:"cold_compaction_days"`
}

// CheckpointConfig configures VCS snapshots.
type CheckpointConfig struct {
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// HumanConfig configures the injection-point channel.
type HumanConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	PollMinMillis         int `yaml:"poll_min_millis"`
	PollMaxMillis         int `yaml:"poll_max_millis"`
}

// BrowserConfig configures evidence capture.
type BrowserConfig struct {
	Headless       bool `yaml:"headless"`
	ViewportWidth  int  `yaml:"viewport_width"`
	ViewportHeight int  `yaml:"viewport_height"`
	NavTimeoutMs   int  `yaml:"navigation_timeout_ms"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Name: "arcadia-forge",
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "120s",
		},
		Supervisor: SupervisorConfig{
			StallTimeoutSeconds:     300,
			CyclicThreshold:         3,
			CyclicWindow:            10,
			StallSessionThreshold:   5,
			CooldownSeconds:         5,
			WatchdogIntervalSeconds: 2,
			ToolHardTimeoutSeconds:  120,
		},
		Budget: BudgetConfig{
			InputCostPer1K:  0.003,
			OutputCostPer1K: 0.015,
			MaxBudgetUSD:    1.00,
		},
		Autonomy: AutonomyConfig{
			Level:                 3, // EXECUTE_SAFE
			MinLevel:              1,
			MaxLevel:              5,
			ConfidenceThreshold:   0.5,
			ErrorDemotionCount:    3,
			SuccessPromotionCount: 10,
			AutoAdjust:            true,
		},
		Memory: MemoryConfig{
			WarmMaxSummaries:   5,
			ColdCompactionDays: 7,
		},
		Checkpoint: CheckpointConfig{
			AuthorName:  "Arcadia Forge",
			AuthorEmail: "forge@localhost",
		},
		Human: HumanConfig{
			DefaultTimeoutSeconds: 300,
			PollMinMillis:         50,
			PollMaxMillis:         2000,
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 800,
			NavTimeoutMs:   30000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .arcadia/config.yaml under the project directory, applying
// defaults for missing fields and ARCADIA_* env overrides on top. A missing
// config file is not an error.
func Load(projectDir string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(projectDir, ".arcadia", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back to .arcadia/config.yaml.
func Save(projectDir string, cfg *Config) error {
	dir := filepath.Join(projectDir, ".arcadia")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644)
}

// applyEnvOverrides applies ARCADIA_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARCADIA_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ARCADIA_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ARCADIA_MAX_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.MaxBudgetUSD = f
		}
	}
	if v := os.Getenv("ARCADIA_INPUT_COST_PER_1K"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.InputCostPer1K = f
		}
	}
	if v := os.Getenv("ARCADIA_OUTPUT_COST_PER_1K"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.OutputCostPer1K = f
		}
	}
	if v := os.Getenv("ARCADIA_STALL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Supervisor.StallTimeoutSeconds = n
		}
	}
	if v := os.Getenv("ARCADIA_AUTONOMY_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Autonomy.Level = n
		}
	}
	if v := os.Getenv("ARCADIA_DEBUG"); v == "1" || v == "true" {
		cfg.Logging.DebugMode = true
	}
}

// Validate rejects configurations the supervisor cannot run with.
func (c *Config) Validate() error {
	if c.Autonomy.Level < 1 || c.Autonomy.Level > 5 {
		return fmt.Errorf("autonomy.level must be 1..5, got %d", c.Autonomy.Level)
	}
	if c.Autonomy.MinLevel > c.Autonomy.MaxLevel {
		return fmt.Errorf("autonomy.min_level %d > max_level %d", c.Autonomy.MinLevel, c.Autonomy.MaxLevel)
	}
	if c.Budget.MaxBudgetUSD < 0 {
		return fmt.Errorf("budget.max_budget_usd must be >= 0")
	}
	if c.Memory.WarmMaxSummaries < 1 {
		return fmt.Errorf("memory.warm_max_summaries must be >= 1")
	}
	if c.Supervisor.CyclicThreshold < 2 {
		return fmt.Errorf("supervisor.cyclic_threshold must be >= 2")
	}
	return nil
}

// LLMTimeout parses the LLM timeout string (default 120s).
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// StallTimeout returns the watchdog stall timeout.
func (c *Config) StallTimeout() time.Duration {
	return time.Duration(c.Supervisor.StallTimeoutSeconds) * time.Second
}

// Cooldown returns the inter-session cooldown.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Supervisor.CooldownSeconds) * time.Second
}

// WatchdogInterval returns the watchdog sweep interval.
func (c *Config) WatchdogInterval() time.Duration {
	d := time.Duration(c.Supervisor.WatchdogIntervalSeconds) * time.Second
	if d < time.Second {
		d = time.Second
	}
	return d
}
