package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/parley/internal/config"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, Telegram bot and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(contextOf(cmd), cfg)
		},
	}
}

// serve runs every configured front end until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(ctx, cfg, logger, frontends{http: true, telegram: true})
	if err != nil {
		return err
	}
	if !cfg.HTTP.Enabled && !cfg.Telegram.Enabled {
		logger.Warn("serve: no front end enabled; enable http or telegram in the configuration")
	}
	return rt.app.Run(ctx)
}
