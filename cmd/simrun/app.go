package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nvandessel/simrun/internal/backup"
	"github.com/nvandessel/simrun/internal/config"
	"github.com/nvandessel/simrun/internal/dataset"
	"github.com/nvandessel/simrun/internal/histogram"
	"github.com/nvandessel/simrun/internal/logging"
	"github.com/nvandessel/simrun/internal/pathutil"
	"github.com/nvandessel/simrun/internal/registry"
	"github.com/nvandessel/simrun/internal/selection"
)

// app holds what a command needs, built from the global flags.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	audit  *logging.AuditLogger
	store  registry.Store
	reg    *registry.Registry
}

// loadConfig reads --config (or the default location) and applies
// --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openApp loads the config and opens the registry. Callers must call close.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr()),
	}
	if level := logging.ParseLevel(cfg.Logging.Level); level <= slog.LevelDebug {
		if dir, err := pathutil.StateDir(); err == nil {
			a.audit = logging.NewAuditLogger(dir)
		}
	}

	store, err := registry.NewStore(cfg.Registry.Backend, cfg.Registry.Path)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	opts := []registry.Option{
		registry.WithLogger(a.logger),
		registry.WithAudit(a.audit),
		registry.WithOutputExtensions(cfg.Data.Extensions...),
	}
	if len(cfg.Data.Roots) > 0 {
		opts = append(opts, registry.WithDataRoots(cfg.Data.Roots...))
	}

	a.reg, err = registry.Open(cmd.Context(), store, opts...)
	if err != nil {
		store.Close()
		a.store = nil
		a.close()
		return nil, fmt.Errorf("failed to open registry %s: %w", pathutil.RedactPath(cfg.Registry.Path), err)
	}
	return a, nil
}

func (a *app) close() {
	if a.reg != nil {
		if err := a.reg.Close(); err != nil {
			a.logger.Warn("closing registry", "error", err)
		}
	}
	a.audit.Close()
}

// snapshot writes a registry backup before a destructive change. It is a
// no-op when backup.keep is 0.
func (a *app) snapshot(ctx context.Context) error {
	if a.cfg.Backup.Keep == 0 {
		return nil
	}
	path, _, err := backup.Backup(ctx, a.store, a.cfg.Backup.Dir)
	if err != nil {
		return fmt.Errorf("snapshot before delete: %w", err)
	}
	a.logger.Debug("registry snapshot written", "path", pathutil.RedactPath(path))
	a.rotateBackups()
	return nil
}

func (a *app) rotateBackups() {
	keep := a.cfg.Backup.Keep
	if keep == 0 {
		keep = 1
	}
	removed, err := backup.Rotate(a.cfg.Backup.Dir, keep)
	if err != nil {
		a.logger.Warn("failed to apply backup retention", "error", err)
		return
	}
	if len(removed) > 0 {
		a.logger.Debug("old snapshots removed", "count", len(removed))
	}
}

func (a *app) loader() *dataset.Loader {
	return dataset.NewLoader(a.cfg.Data.Tree, a.cfg.Data.Workers, a.logger)
}

func (a *app) engine() *selection.Engine {
	en := selection.NewEngine(a.logger)
	en.Threshold = a.cfg.Selection.HitEnergyThreshold
	en.Fields = selection.Fields{
		Compton:   a.cfg.Selection.ComptonField,
		Photo:     a.cfg.Selection.PhotoField,
		Type:      a.cfg.Selection.TypeField,
		HitEnergy: a.cfg.Selection.HitEnergyField,
	}
	en.HitFields = a.cfg.Selection.HitFields
	return en
}

func (a *app) weights() histogram.WeightSelector {
	byLength := histogram.ByLength(a.cfg.Histogram.EventWeight, a.cfg.Histogram.HitWeight)
	if len(a.cfg.Histogram.Weights) == 0 {
		return byLength
	}
	return histogram.Explicit(a.cfg.Histogram.Weights, byLength)
}
