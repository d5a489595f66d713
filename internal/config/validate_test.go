package config

import (
	"strings"
	"testing"

	"github.com/flemzord/parley/modules/provider/openaicompat"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		DataDir: t.TempDir(),
		Providers: []ProviderConfig{{
			Name:   "primary",
			Client: openaicompat.Config{APIKey: "sk-test", Model: "gpt-test"},
		}},
	}
	cfg.Defaults()
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()

	if err := Validate(validConfig(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unsupported version",
			mutate: func(c *Config) { c.Version = "2" },
			want:   "unsupported version",
		},
		{
			name:   "no providers",
			mutate: func(c *Config) { c.Providers = nil },
			want:   "at least one provider",
		},
		{
			name: "duplicate provider name",
			mutate: func(c *Config) {
				c.Providers = append(c.Providers, c.Providers[0])
			},
			want: "duplicate name",
		},
		{
			name:   "provider without model",
			mutate: func(c *Config) { c.Providers[0].Client.Model = "" },
			want:   "model is required",
		},
		{
			name:   "negative budget",
			mutate: func(c *Config) { c.Conversation.MaxPromptBudget = -1 },
			want:   "max_prompt_budget",
		},
		{
			name:   "unknown counter",
			mutate: func(c *Config) { c.Conversation.Counter = "bytes" },
			want:   "unknown counter",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			want:   "logging.level",
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
		{
			name:   "bad gauge schedule",
			mutate: func(c *Config) { c.Cron.SessionGauge = "every now and then" },
			want:   "cron.session_gauge",
		},
		{
			name: "enabled http with bad bind",
			mutate: func(c *Config) {
				c.HTTP.Enabled = true
				c.HTTP.Bind = "not an address"
			},
			want: "bind",
		},
		{
			name: "enabled telegram without token",
			mutate: func(c *Config) {
				c.Telegram.Enabled = true
			},
			want: "telegram: token is required",
		},
		{
			name: "telegram webhook without http",
			mutate: func(c *Config) {
				c.Telegram.Enabled = true
				c.Telegram.Token = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"
				c.Telegram.Mode = "webhook"
				c.Telegram.WebhookURL = "https://bot.example.com/telegram/webhook"
				c.Telegram.AllowUsers = []string{"*"}
			},
			want: "requires http.enabled",
		},
		{
			name: "enabled tracing with bad ratio",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRatio = 2
			},
			want: "sample_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig(t)
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestValidate_DisabledSectionsSkipped(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.HTTP.Bind = "not an address"
	cfg.Telegram.Token = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled sections should not be validated: %v", err)
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Version = "0"
	cfg.Logging.Format = "xml"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "unsupported version") || !strings.Contains(msg, "logging.format") {
		t.Errorf("error should report both problems: %v", msg)
	}
}

func TestSecrets(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Telegram.Token = "123:abc"
	cfg.HTTP.Auth.BearerToken = "bearer"
	got := cfg.Secrets()
	want := map[string]bool{"sk-test": true, "123:abc": true, "bearer": true}
	if len(got) != len(want) {
		t.Fatalf("Secrets = %v", got)
	}
	for _, s := range got {
		if !want[s] {
			t.Errorf("unexpected secret %q", s)
		}
	}
}
