package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flemzord/parley/internal/conversation"
	"github.com/flemzord/parley/internal/cron"
	"github.com/flemzord/parley/modules/channel/telegram"
)

// Defaults fills zero-value fields of every section.
func (c *Config) Defaults() {
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}

	if c.Conversation.MaxPromptBudget == 0 {
		c.Conversation.MaxPromptBudget = conversation.DefaultMaxPromptBudget
	}
	if c.Conversation.Counter == "" {
		c.Conversation.Counter = conversation.CounterChars
	}

	c.Assistant.Defaults()
	for i := range c.Providers {
		c.Providers[i].Client.Defaults()
		if c.Providers[i].Name == "" {
			c.Providers[i].Name = fmt.Sprintf("provider-%d", i)
		}
	}
	c.HTTP.Defaults()
	c.Telegram.Defaults()
	c.Metrics.Defaults()
	c.Tracing.Defaults()
	c.Usage.Defaults(c.DataDir)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Cron.SessionGauge == "" {
		c.Cron.SessionGauge = "@every 30s"
	}
}

// defaultDataDir is $XDG_DATA_HOME/parley, else ~/.local/share/parley.
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "parley")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "parley")
	}
	return "data"
}

// Validate checks every section and returns all problems joined.
// Disabled sections are not validated.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: %q)", cfg.Version, CurrentVersion))
	}

	errs = append(errs, validateConversation(cfg.Conversation)...)
	if err := cfg.Assistant.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateProviders(cfg.Providers)...)

	if cfg.HTTP.Enabled {
		if err := cfg.HTTP.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Telegram.Enabled {
		if err := cfg.Telegram.Validate(); err != nil {
			errs = append(errs, err)
		}
		if cfg.Telegram.Mode == telegram.ModeWebhook && !cfg.HTTP.Enabled {
			errs = append(errs, errors.New("config: telegram webhook mode requires http.enabled"))
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("config: metrics.path must start with /, got %q", cfg.Metrics.Path))
	}
	if cfg.Tracing.Enabled {
		if err := cfg.Tracing.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Usage.Enabled {
		if err := cfg.Usage.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, validateLogging(cfg.Logging)...)
	if err := cron.ValidateSchedule(cfg.Cron.SessionGauge); err != nil {
		errs = append(errs, fmt.Errorf("config: cron.session_gauge: %w", err))
	}

	return errors.Join(errs...)
}

func validateConversation(c ConversationConfig) []error {
	var errs []error
	if c.MaxPromptBudget < 0 {
		errs = append(errs, fmt.Errorf("config: conversation.max_prompt_budget must be positive, got %d", c.MaxPromptBudget))
	}
	if c.Shards < 0 {
		errs = append(errs, fmt.Errorf("config: conversation.shards must not be negative, got %d", c.Shards))
	}
	if c.CharsPerToken < 0 {
		errs = append(errs, fmt.Errorf("config: conversation.chars_per_token must not be negative"))
	}
	if _, err := conversation.NewCounter(c.Counter, c.CharsPerToken); err != nil {
		errs = append(errs, fmt.Errorf("config: conversation.counter: %w", err))
	}
	return errs
}

func validateProviders(providers []ProviderConfig) []error {
	if len(providers) == 0 {
		return []error{errors.New("config: at least one provider must be configured")}
	}

	var errs []error
	seen := make(map[string]struct{}, len(providers))
	for i, p := range providers {
		if _, dup := seen[p.Name]; dup {
			errs = append(errs, fmt.Errorf("config: providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = struct{}{}
		if err := p.Client.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: providers[%d] (%s): %w", i, p.Name, err))
		}
	}
	return errs
}

func validateLogging(l LoggingConfig) []error {
	var errs []error
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: logging.level must be debug, info, warn or error, got %q", l.Level))
	}
	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: logging.format must be text or json, got %q", l.Format))
	}
	return errs
}
