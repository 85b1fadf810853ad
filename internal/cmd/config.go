package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/quorumhq/quorum/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or initialize quorum configuration",
	RunE:  runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current effective values",
	Long: `Write the effective configuration to the default config path so it
can be edited. The tuning section hot-reloads into running sessions;
everything else is read at process start.`,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Println(used)
			return
		}
		fmt.Println(config.ConfigFile())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	data, err := renderConfig(cfg)
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	data, err := renderConfig(cfg)
	if err != nil {
		return err
	}

	path := config.ConfigFile()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	fmt.Printf("%s %s\n", okStyle.Render("wrote"), path)
	return nil
}

// renderConfig serializes config through its viper key structure so the
// output file round-trips through Load.
func renderConfig(cfg *config.Config) ([]byte, error) {
	doc := map[string]any{
		"session": map[string]any{
			"max_rounds":          cfg.Session.MaxRounds,
			"absolute_round_cap":  cfg.Session.AbsoluteRoundCap,
			"step_limit_overhead": cfg.Session.StepLimitOverhead,
			"timeout_seconds":     cfg.Session.TimeoutSeconds,
			"cost_budget_usd":     cfg.Session.CostBudgetUSD,
		},
		"tuning": map[string]any{
			"convergence_threshold": cfg.Tuning.ConvergenceThreshold,
			"novelty_floor":         cfg.Tuning.NoveltyFloor,
			"drift_floor":           cfg.Tuning.DriftFloor,
			"min_panel_size":        cfg.Tuning.MinPanelSize,
			"max_panel_size":        cfg.Tuning.MaxPanelSize,
			"call_timeout_seconds":  cfg.Tuning.CallTimeoutSeconds,
		},
		"providers": map[string]any{
			"retry_attempts":   cfg.Providers.RetryAttempts,
			"retry_backoff_ms": cfg.Providers.RetryBackoffMs,
		},
		"checkpoint": map[string]any{
			"dir":       cfg.Checkpoint.Dir,
			"retention": cfg.Checkpoint.Retention,
			"ttl_hours": cfg.Checkpoint.TTLHours,
		},
		"personas": map[string]any{
			"catalog_path":           cfg.Personas.CatalogPath,
			"default_panel_patterns": cfg.Personas.DefaultPanelPatterns,
		},
		"logging": map[string]any{
			"enabled":     cfg.Logging.Enabled,
			"level":       cfg.Logging.Level,
			"dir":         cfg.Logging.Dir,
			"max_size_mb": cfg.Logging.MaxSizeMB,
			"max_backups": cfg.Logging.MaxBackups,
		},
	}
	return yaml.Marshal(doc)
}
