// Package main is the entry point for the parley CLI.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/parley/internal/config"
	"github.com/flemzord/parley/internal/security"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "parley",
		Short:         "A chat assistant that remembers each user's recent conversation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.AddCommand(
		versionCmd(),
		serveCmd(),
		chatCmd(),
		mcpCmd(),
		initCmd(),
		serviceCmd(),
		configCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "parley %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// configPath returns the --config flag, or the first config file found in
// the standard locations.
func configPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p, nil
	}
	p, err := config.FindPath()
	if err != nil {
		return "", fmt.Errorf("%w (searched: %v); run `parley init` to create one", err, config.SearchPaths())
	}
	return p, nil
}

// loadConfig loads and validates the configuration selected by cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// newLogger builds the root logger from the logging section. Configured
// credentials are redacted from every record.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := security.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	redactor := security.NewRedactor(cfg.Secrets()...)
	return security.NewLogger(w, level, cfg.Logging.Format, redactor), nil
}
