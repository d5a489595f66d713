// Package config handles YAML configuration loading, environment variable
// expansion, defaults and validation for parley.
package config

import (
	"github.com/flemzord/parley/internal/assistant"
	"github.com/flemzord/parley/internal/gateway"
	"github.com/flemzord/parley/internal/provider"
	"github.com/flemzord/parley/internal/telemetry"
	"github.com/flemzord/parley/internal/usage"
	"github.com/flemzord/parley/modules/channel/telegram"
	"github.com/flemzord/parley/modules/provider/openaicompat"
)

// CurrentVersion is the only supported config format version.
const CurrentVersion = "1"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir holds on-disk state such as the usage ledger.
	DataDir string `yaml:"data_dir"`

	Conversation ConversationConfig      `yaml:"conversation"`
	Assistant    assistant.Config        `yaml:"assistant"`
	Providers    []ProviderConfig        `yaml:"providers"`
	HTTP         gateway.Config          `yaml:"http"`
	Telegram     telegram.Config         `yaml:"telegram"`
	Metrics      telemetry.MetricsConfig `yaml:"metrics"`
	Tracing      telemetry.TracingConfig `yaml:"tracing"`
	Usage        usage.Config            `yaml:"usage"`
	Logging      LoggingConfig           `yaml:"logging"`
	Cron         CronConfig              `yaml:"cron"`
}

// ConversationConfig configures the per-user conversation store.
type ConversationConfig struct {
	// MaxPromptBudget caps the cost of the turns kept per user.
	MaxPromptBudget int `yaml:"max_prompt_budget"`

	// CharacterDesc is the persona preamble placed before every prompt.
	CharacterDesc string `yaml:"character_desc"`

	// Counter selects how turn cost is measured: "chars" or "ratio".
	Counter string `yaml:"counter"`

	// CharsPerToken is the ratio used by the "ratio" counter.
	CharsPerToken float64 `yaml:"chars_per_token"`

	// Shards is the number of lock partitions.
	Shards int `yaml:"shards"`
}

// ProviderConfig is one entry of the failover chain. Entries are tried in
// the order they are listed.
type ProviderConfig struct {
	Name   string                `yaml:"name"`
	Client openaicompat.Config   `yaml:",inline"`
	Health provider.HealthConfig `yaml:"health"`
}

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// CronConfig holds schedules for housekeeping jobs.
type CronConfig struct {
	// SessionGauge is how often the live session gauge is refreshed.
	SessionGauge string `yaml:"session_gauge"`
}

// Secrets returns every configured credential, for log redaction.
func (c *Config) Secrets() []string {
	var out []string
	add := func(s string) {
		if s != "" {
			out = append(out, s)
		}
	}
	for _, p := range c.Providers {
		add(p.Client.APIKey)
	}
	add(c.HTTP.Auth.BearerToken)
	add(c.HTTP.Auth.BasicPass)
	add(c.Telegram.Token)
	add(c.Telegram.WebhookSecret)
	return out
}
