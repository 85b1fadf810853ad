package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Quorum configuration
type Config struct {
	Session    SessionConfig    `mapstructure:"session"`
	Tuning     TuningConfig     `mapstructure:"tuning"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Personas   PersonasConfig   `mapstructure:"personas"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SessionConfig controls deliberation session limits
type SessionConfig struct {
	// MaxRounds is the per-sub-problem discussion round budget before the
	// facilitator is forced to call a vote (default: 7)
	MaxRounds int `mapstructure:"max_rounds"`
	// AbsoluteRoundCap is a hard ceiling on rounds per sub-problem that no
	// facilitator decision can exceed (default: 15)
	AbsoluteRoundCap int `mapstructure:"absolute_round_cap"`
	// StepLimitOverhead is the slack added to the derived per-session step
	// ceiling to cover synthesis and bookkeeping nodes (default: 25)
	StepLimitOverhead int `mapstructure:"step_limit_overhead"`
	// TimeoutSeconds is the wall-clock watchdog for a whole session,
	// 0 disables it (default: 3600)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// CostBudgetUSD is the session cost kill switch; when cumulative cost
	// crosses it the engine forces early synthesis from material gathered
	// so far. 0 disables the budget (default: 0)
	CostBudgetUSD float64 `mapstructure:"cost_budget_usd"`
}

// TuningConfig controls convergence scoring and panel sizing
type TuningConfig struct {
	// ConvergenceThreshold is the similarity score at or above which the
	// panel is considered converged (default: 0.85)
	ConvergenceThreshold float64 `mapstructure:"convergence_threshold"`
	// NoveltyFloor is the novelty score below which another round is not
	// worth running (default: 0.30)
	NoveltyFloor float64 `mapstructure:"novelty_floor"`
	// DriftFloor is the goal-relevance score below which the next round is
	// issued a redirect back to the sub-problem goal (default: 0.40)
	DriftFloor float64 `mapstructure:"drift_floor"`
	// MinPanelSize and MaxPanelSize bound default panel selection
	MinPanelSize int `mapstructure:"min_panel_size"`
	MaxPanelSize int `mapstructure:"max_panel_size"`
	// CallTimeoutSeconds bounds each individual provider call (default: 120)
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`
}

// ProvidersConfig controls retry behavior at the provider boundary
type ProvidersConfig struct {
	// RetryAttempts is the total attempts per provider call, including
	// the first (default: 3)
	RetryAttempts int `mapstructure:"retry_attempts"`
	// RetryBackoffMs is the initial backoff before the second attempt in
	// milliseconds; it doubles per attempt (default: 500)
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

// CheckpointConfig controls checkpoint persistence
type CheckpointConfig struct {
	// Dir is where checkpoints are stored. Empty means
	// <config dir>/checkpoints.
	Dir string `mapstructure:"dir"`
	// Retention is how many checkpoints to keep per session, 0 keeps all
	// (default: 50)
	Retention int `mapstructure:"retention"`
	// TTLHours expires whole session checkpoint directories after this
	// many hours, 0 disables expiry (default: 168)
	TTLHours int `mapstructure:"ttl_hours"`
}

// PersonasConfig controls the persona catalog and default panels
type PersonasConfig struct {
	// CatalogPath is the YAML persona catalog. Empty uses the built-in
	// catalog.
	CatalogPath string `mapstructure:"catalog_path"`
	// DefaultPanelPatterns are archetype glob patterns used to pick a
	// panel when a sub-problem names none
	DefaultPanelPatterns []string `mapstructure:"default_panel_patterns"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether file logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log directory. Empty means <config dir>/logs.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// Timeout returns the session watchdog as a time.Duration (0 means disabled)
func (c *SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CallTimeout returns the per-call timeout as a time.Duration
func (c *TuningConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// RetryBackoff returns the initial retry backoff as a time.Duration
func (c *ProvidersConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// TTL returns the checkpoint expiry as a time.Duration (0 means disabled)
func (c *CheckpointConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// ResolveDir returns the checkpoint directory, defaulting under the
// config dir when unset.
func (c *CheckpointConfig) ResolveDir() string {
	if c.Dir != "" {
		return expandHome(c.Dir)
	}
	return filepath.Join(ConfigDir(), "checkpoints")
}

// ResolveDir returns the log directory, defaulting under the config dir
// when unset.
func (c *LoggingConfig) ResolveDir() string {
	if c.Dir != "" {
		return expandHome(c.Dir)
	}
	return filepath.Join(ConfigDir(), "logs")
}

func expandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if len(path) > 1 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			MaxRounds:         7,
			AbsoluteRoundCap:  15,
			StepLimitOverhead: 25,
			TimeoutSeconds:    3600,
			CostBudgetUSD:     0, // No budget by default
		},
		Tuning: TuningConfig{
			ConvergenceThreshold: 0.85,
			NoveltyFloor:         0.30,
			DriftFloor:           0.40,
			MinPanelSize:         2,
			MaxPanelSize:         5,
			CallTimeoutSeconds:   120,
		},
		Providers: ProvidersConfig{
			RetryAttempts:  3,
			RetryBackoffMs: 500,
		},
		Checkpoint: CheckpointConfig{
			Dir:       "", // Empty means use default: <config dir>/checkpoints
			Retention: 50,
			TTLHours:  168, // One week
		},
		Personas: PersonasConfig{
			CatalogPath:          "", // Empty means use the built-in catalog
			DefaultPanelPatterns: []string{"engineering.*", "product.*"},
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Session defaults
	viper.SetDefault("session.max_rounds", defaults.Session.MaxRounds)
	viper.SetDefault("session.absolute_round_cap", defaults.Session.AbsoluteRoundCap)
	viper.SetDefault("session.step_limit_overhead", defaults.Session.StepLimitOverhead)
	viper.SetDefault("session.timeout_seconds", defaults.Session.TimeoutSeconds)
	viper.SetDefault("session.cost_budget_usd", defaults.Session.CostBudgetUSD)

	// Tuning defaults
	viper.SetDefault("tuning.convergence_threshold", defaults.Tuning.ConvergenceThreshold)
	viper.SetDefault("tuning.novelty_floor", defaults.Tuning.NoveltyFloor)
	viper.SetDefault("tuning.drift_floor", defaults.Tuning.DriftFloor)
	viper.SetDefault("tuning.min_panel_size", defaults.Tuning.MinPanelSize)
	viper.SetDefault("tuning.max_panel_size", defaults.Tuning.MaxPanelSize)
	viper.SetDefault("tuning.call_timeout_seconds", defaults.Tuning.CallTimeoutSeconds)

	// Providers defaults
	viper.SetDefault("providers.retry_attempts", defaults.Providers.RetryAttempts)
	viper.SetDefault("providers.retry_backoff_ms", defaults.Providers.RetryBackoffMs)

	// Checkpoint defaults
	viper.SetDefault("checkpoint.dir", defaults.Checkpoint.Dir)
	viper.SetDefault("checkpoint.retention", defaults.Checkpoint.Retention)
	viper.SetDefault("checkpoint.ttl_hours", defaults.Checkpoint.TTLHours)

	// Personas defaults
	viper.SetDefault("personas.catalog_path", defaults.Personas.CatalogPath)
	viper.SetDefault("personas.default_panel_patterns", defaults.Personas.DefaultPanelPatterns)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quorum")
	}
	// Fall back to ~/.config/quorum
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quorum"
	}
	return filepath.Join(home, ".config", "quorum")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
