package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/parley/internal/config"
	"github.com/flemzord/parley/modules/provider/openaicompat"
)

// initAnswers are the values collected by the init form.
type initAnswers struct {
	BaseURL       string
	APIKey        string
	Model         string
	Endpoint      string
	CharacterDesc string
	HTTP          bool
	Bind          string
	Telegram      bool
	TelegramToken string
	TelegramUsers string
}

func defaultAnswers() initAnswers {
	return initAnswers{
		BaseURL:       openaicompat.DefaultBaseURL,
		APIKey:        "${OPENAI_API_KEY}",
		Model:         "gpt-4o-mini",
		Endpoint:      string(openaicompat.EndpointChat),
		CharacterDesc: "You are a helpful, friendly assistant.",
		HTTP:          true,
		Bind:          "127.0.0.1:8080",
		TelegramToken: "${TELEGRAM_BOT_TOKEN}",
	}
}

func initCmd() *cobra.Command {
	var (
		force       bool
		useDefaults bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				paths := config.SearchPaths()
				path = paths[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			answers := defaultAnswers()
			if !useDefaults {
				if err := initForm(&answers).Run(); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return nil
					}
					return err
				}
			}

			data, err := renderConfig(answers)
			if err != nil {
				return err
			}
			if err := writeConfig(path, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nCheck it with: parley config check %s\n", path, path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&useDefaults, "defaults", false, "Skip the form and write the default configuration")
	return cmd
}

func initForm(a *initAnswers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Provider base URL").
				Description("Any OpenAI-compatible API").
				Value(&a.BaseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("API key").
				Description("A literal key or ${ENV_VAR}").
				EchoMode(huh.EchoModePassword).
				Value(&a.APIKey).
				Validate(required("API key")),
			huh.NewInput().
				Title("Model").
				Value(&a.Model).
				Validate(required("model")),
			huh.NewSelect[string]().
				Title("Endpoint").
				Options(
					huh.NewOption("Chat completions", string(openaicompat.EndpointChat)),
					huh.NewOption("Text completions", string(openaicompat.EndpointCompletions)),
				).
				Value(&a.Endpoint),
		),
		huh.NewGroup(
			huh.NewText().
				Title("Character description").
				Description("Placed before every conversation").
				Value(&a.CharacterDesc),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the HTTP API?").
				Value(&a.HTTP),
			huh.NewInput().
				Title("Listen address").
				Value(&a.Bind).
				Validate(required("listen address")),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the Telegram bot?").
				Value(&a.Telegram),
			huh.NewInput().
				Title("Bot token").
				Description("From @BotFather, or ${ENV_VAR}").
				EchoMode(huh.EchoModePassword).
				Value(&a.TelegramToken),
			huh.NewInput().
				Title("Allowed users").
				Description(`Comma-separated IDs or usernames; "*" allows everyone`).
				Value(&a.TelegramUsers),
		),
	)
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http or https URL")
	}
	return nil
}

// initFile is the subset of the configuration written by init. Everything
// else is left to defaults.
type initFile struct {
	Version      string           `yaml:"version"`
	Conversation initConversation `yaml:"conversation"`
	Providers    []initProvider   `yaml:"providers"`
	HTTP         *initHTTP        `yaml:"http,omitempty"`
	Telegram     *initTelegram    `yaml:"telegram,omitempty"`
}

type initConversation struct {
	MaxPromptBudget int    `yaml:"max_prompt_budget"`
	CharacterDesc   string `yaml:"character_desc,omitempty"`
}

type initProvider struct {
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

type initHTTP struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
}

type initTelegram struct {
	Enabled    bool     `yaml:"enabled"`
	Token      string   `yaml:"token"`
	AllowUsers []string `yaml:"allow_users"`
}

// renderConfig turns the answers into YAML.
func renderConfig(a initAnswers) ([]byte, error) {
	f := initFile{
		Version: config.CurrentVersion,
		Conversation: initConversation{
			MaxPromptBudget: 1000,
			CharacterDesc:   strings.TrimSpace(a.CharacterDesc),
		},
		Providers: []initProvider{{
			Name:     "primary",
			BaseURL:  a.BaseURL,
			APIKey:   a.APIKey,
			Model:    a.Model,
			Endpoint: a.Endpoint,
		}},
	}
	if a.HTTP {
		f.HTTP = &initHTTP{Enabled: true, Bind: a.Bind}
	}
	if a.Telegram {
		tg := &initTelegram{Enabled: true, Token: a.TelegramToken}
		for _, u := range strings.Split(a.TelegramUsers, ",") {
			if u = strings.TrimSpace(u); u != "" {
				tg.AllowUsers = append(tg.AllowUsers, u)
			}
		}
		f.Telegram = tg
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}
	return append([]byte("# parley configuration. Values may reference environment variables.\n"), data...), nil
}

// writeConfig writes data with owner-only permissions, creating parent
// directories.
func writeConfig(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
