package assistant

import (
	"fmt"
	"time"
)

// Defaults for Config.
const (
	DefaultClearCommand = "#clear memory"
	DefaultClearReply   = "Memory cleared."
	DefaultApology      = "You're asking too fast, please take a short break and try again."
	DefaultRetryDelay   = 5 * time.Second
)

// Config holds assistant behavior settings.
type Config struct {
	// ClearCommand is the exact query that wipes the user's memory.
	ClearCommand string `yaml:"clear_command"`

	// ClearReply is returned after the memory is wiped.
	ClearReply string `yaml:"clear_reply"`

	// Apology is returned when the provider is still rate limiting after
	// the retry.
	Apology string `yaml:"apology"`

	// RetryDelay is the pause before the single rate-limit retry.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// MaxTokens caps the answer length. Zero leaves it to the provider.
	MaxTokens int `yaml:"max_tokens"`

	// Stop lists extra stop sequences sent with every completion.
	Stop []string `yaml:"stop"`

	// ImageSize is the requested image resolution.
	ImageSize string `yaml:"image_size"`
}

// Defaults fills zero-value fields.
func (c *Config) Defaults() {
	if c.ClearCommand == "" {
		c.ClearCommand = DefaultClearCommand
	}
	if c.ClearReply == "" {
		c.ClearReply = DefaultClearReply
	}
	if c.Apology == "" {
		c.Apology = DefaultApology
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.RetryDelay < 0 {
		return fmt.Errorf("assistant: retry_delay must not be negative")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("assistant: max_tokens must not be negative")
	}
	return nil
}
