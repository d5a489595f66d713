package telegram

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// tokenPattern matches the Telegram bot token format: <digits>:<alphanum+dash>.
var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Delivery modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config holds the Telegram channel configuration.
type Config struct {
	Enabled             bool          `yaml:"enabled"`
	Token               string        `yaml:"token"`
	Mode                string        `yaml:"mode"`
	PollingTimeout      int           `yaml:"polling_timeout"`
	WebhookURL          string        `yaml:"webhook_url"`
	WebhookPath         string        `yaml:"webhook_path"`
	WebhookSecret       string        `yaml:"webhook_secret"`
	AllowUsers          []string      `yaml:"allow_users"`
	AllowGroups         []string      `yaml:"allow_groups"`
	MaxMessageLength    int           `yaml:"max_message_length"`
	MaxConcurrent       int           `yaml:"max_concurrent"`
	Stream              bool          `yaml:"stream"`
	StreamFlushInterval time.Duration `yaml:"stream_flush_interval"`
	Greeting            string        `yaml:"greeting"`
	ErrorReply          string        `yaml:"error_reply"`
	APIURL              string        `yaml:"api_url"`
}

// Defaults applies default values to unset fields.
func (c *Config) Defaults() {
	if c.Mode == "" {
		c.Mode = ModePolling
	}
	if c.PollingTimeout == 0 {
		c.PollingTimeout = 30
	}
	if c.WebhookPath == "" {
		c.WebhookPath = "/telegram/webhook"
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = 4096
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.StreamFlushInterval <= 0 {
		c.StreamFlushInterval = time.Second
	}
	if c.Greeting == "" {
		c.Greeting = "Hi! Send me a message and I will answer.\n/clear forgets our conversation.\n/image <description> draws a picture."
	}
	if c.ErrorReply == "" {
		c.ErrorReply = "Sorry, something went wrong. Please try again later."
	}
	if c.APIURL == "" {
		c.APIURL = "https://api.telegram.org"
	}
}

// Validate checks configuration field constraints. Call Defaults first.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("telegram: token is required")
	}
	if !tokenPattern.MatchString(c.Token) {
		return errors.New("telegram: token format invalid (expected <bot_id>:<hash>)")
	}

	switch c.Mode {
	case ModePolling:
	case ModeWebhook:
		u, err := url.Parse(c.WebhookURL)
		if c.WebhookURL == "" || err != nil || u.Scheme != "https" {
			return fmt.Errorf("telegram: webhook_url must be an https URL in webhook mode, got %q", c.WebhookURL)
		}
		if !strings.HasPrefix(c.WebhookPath, "/") {
			return fmt.Errorf("telegram: webhook_path must start with /, got %q", c.WebhookPath)
		}
	default:
		return fmt.Errorf("telegram: invalid mode %q (must be %q or %q)", c.Mode, ModePolling, ModeWebhook)
	}

	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("telegram: api_url must be a valid http/https URL, got %q", c.APIURL)
		}
	}

	if c.PollingTimeout < 0 || c.PollingTimeout > 50 {
		return fmt.Errorf("telegram: polling_timeout must be 0-50, got %d", c.PollingTimeout)
	}

	if c.MaxMessageLength < 1 || c.MaxMessageLength > 4096 {
		return fmt.Errorf("telegram: max_message_length must be 1-4096, got %d", c.MaxMessageLength)
	}

	if c.StreamFlushInterval < 100*time.Millisecond || c.StreamFlushInterval > 30*time.Second {
		return fmt.Errorf("telegram: stream_flush_interval must be 100ms-30s, got %s", c.StreamFlushInterval)
	}

	if len(c.AllowUsers) == 0 && len(c.AllowGroups) == 0 {
		return errors.New(`telegram: allow_users or allow_groups is required (use "*" to allow everyone)`)
	}

	return nil
}
