package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/parley/internal/config"
	"github.com/flemzord/parley/internal/security"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	var show bool
	check := &cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set("config", args[0]); err != nil {
					return err
				}
			}
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%s)\n", path)
			fmt.Fprintf(out, "  providers: %d\n", len(cfg.Providers))
			for _, p := range cfg.Providers {
				fmt.Fprintf(out, "    %s: %s (%s, %s)\n", p.Name, p.Client.Model, p.Client.Endpoint, p.Client.BaseURL)
			}
			fmt.Fprintf(out, "  http: %s\n", enabled(cfg.HTTP.Enabled, cfg.HTTP.Bind))
			fmt.Fprintf(out, "  telegram: %s\n", enabled(cfg.Telegram.Enabled, cfg.Telegram.Mode))
			fmt.Fprintf(out, "  usage ledger: %s\n", enabled(cfg.Usage.Enabled, cfg.Usage.Path))

			if !show {
				return nil
			}
			resolved, err := redactedYAML(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s", resolved)
			return nil
		},
	}
	check.Flags().BoolVar(&show, "show", false, "Print the resolved configuration with secrets redacted")

	cmd.AddCommand(check)
	return cmd
}

func enabled(on bool, detail string) string {
	if !on {
		return "disabled"
	}
	return detail
}

// redactedYAML renders cfg after defaults, with credentials replaced.
func redactedYAML(cfg *config.Config) ([]byte, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	security.NewRedactor(cfg.Secrets()...).RedactMap(m)
	return yaml.Marshal(m)
}
