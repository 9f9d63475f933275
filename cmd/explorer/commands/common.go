// Package commands implements the explorer CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"explorer/internal/config"
	"explorer/internal/explore"
	"explorer/internal/manifest"
	"explorer/internal/observability"
)

// Flag names shared by every subcommand.
const (
	FlagConfig   = "config"
	FlagManifest = "manifest"
)

const serviceName = "explorer"

// env is what every subcommand needs before doing its work.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	manifest *manifest.Manifest
}

func setup(cmd *cobra.Command) (*env, error) {
	configPath, _ := cmd.Flags().GetString(FlagConfig)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if path, _ := cmd.Flags().GetString(FlagManifest); path != "" {
		cfg.Data.Manifest = path
	}

	logger, err := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	m, err := manifest.Load(cfg.Data.Manifest)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, manifest: m}, nil
}

func (e *env) options() explore.Options {
	return explore.Options{
		Padding:   e.cfg.Explorer.Padding,
		LinePlots: e.cfg.Explorer.LinePlots,
	}
}

func (e *env) load(ctx context.Context) (*explore.Explorer, error) {
	ex, err := explore.Load(ctx, e.manifest, e.options())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", e.cfg.Data.Manifest, err)
	}
	return ex, nil
}
