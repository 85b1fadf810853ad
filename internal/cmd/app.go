package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"

	"github.com/quorumhq/quorum/internal/checkpoint"
	"github.com/quorumhq/quorum/internal/config"
	"github.com/quorumhq/quorum/internal/engine"
	"github.com/quorumhq/quorum/internal/event"
	"github.com/quorumhq/quorum/internal/logging"
	"github.com/quorumhq/quorum/internal/persona"
	"github.com/quorumhq/quorum/internal/provider"
	"github.com/quorumhq/quorum/internal/session"
)

// Output styles shared across commands.
var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// app bundles the wired components behind every command.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *checkpoint.FileStore
	catalog *persona.Catalog
	engine  *engine.Engine
	manager *session.Manager
	watcher *config.Watcher
}

// buildApp wires configuration, logging, persistence, the engine, and
// the session manager. dryRun selects the stub providers; there is no
// in-repo live provider, so execution always goes through the stubs.
func buildApp(dryRun bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var logger *logging.Logger
	if cfg.Logging.Enabled {
		logger, err = logging.NewLogger(cfg.Logging.ResolveDir(), cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("opening log: %w", err)
		}
	} else {
		logger = logging.NopLogger()
	}

	store, err := checkpoint.NewFileStore(cfg.Checkpoint.ResolveDir(),
		checkpoint.WithRetention(cfg.Checkpoint.Retention),
		checkpoint.WithTTL(cfg.Checkpoint.TTL()),
	)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	if !dryRun {
		return nil, fmt.Errorf("no live contribution provider is configured; run with --dry-run")
	}
	contrib := provider.WrapContribution(provider.NewStubProvider(), provider.RetryConfig{
		MaxAttempts: cfg.Providers.RetryAttempts,
		Backoff:     cfg.Providers.RetryBackoff(),
	}, logger)
	scorer := provider.NewStubScorer()

	eng := engine.New(engine.ConfigFrom(cfg), contrib, scorer, store, event.NewBus(), logger)
	mgr := session.NewManager(session.ConfigFrom(cfg), eng, catalog, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		catalog: catalog,
		engine:  eng,
		manager: mgr,
	}, nil
}

// watchTuning starts hot reload of the convergence thresholds from the
// config file the process loaded, if there is one.
func (a *app) watchTuning() {
	path := viper.ConfigFileUsed()
	if path == "" {
		return
	}
	w, err := config.NewWatcher(path, a.cfg.Tuning, func(t config.TuningConfig) {
		a.engine.SetTuning(engine.Tuning{
			ConvergenceThreshold: t.ConvergenceThreshold,
			NoveltyFloor:         t.NoveltyFloor,
			DriftFloor:           t.DriftFloor,
		})
	}, a.logger)
	if err != nil {
		a.logger.Warn("tuning hot reload unavailable", "error", err)
		return
	}
	a.watcher = w
}

func (a *app) close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

func loadCatalog(cfg *config.Config) (*persona.Catalog, error) {
	if cfg.Personas.CatalogPath == "" {
		return persona.DefaultCatalog(), nil
	}
	catalog, err := persona.LoadCatalog(cfg.Personas.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading persona catalog: %w", err)
	}
	return catalog, nil
}
