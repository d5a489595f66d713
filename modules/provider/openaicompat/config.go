package openaicompat

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Endpoint selects which OpenAI API shape the rendered prompt is sent to.
type Endpoint string

// Supported endpoints.
const (
	// EndpointChat wraps the prompt in a single user message on /chat/completions.
	EndpointChat Endpoint = "chat"
	// EndpointCompletions sends the prompt verbatim to /completions.
	EndpointCompletions Endpoint = "completions"
)

// DefaultBaseURL is used when base_url is not configured.
const DefaultBaseURL = "https://api.openai.com/v1"

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	BaseURL     string            `yaml:"base_url"`
	APIKey      string            `yaml:"api_key"`
	APIKeyEnv   string            `yaml:"api_key_env"`
	Model       string            `yaml:"model"`
	Endpoint    Endpoint          `yaml:"endpoint"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature *float64          `yaml:"temperature"`
	ImageModel  string            `yaml:"image_model"`
	Headers     map[string]string `yaml:"headers"`
	Timeout     time.Duration     `yaml:"timeout"`
}

// Defaults sets default values for unset fields.
func (c *Config) Defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Endpoint == "" {
		c.Endpoint = EndpointChat
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.APIKey == "" && c.APIKeyEnv != "" {
		c.APIKey = os.Getenv(c.APIKeyEnv)
	}
}

// Validate returns an error if the configuration is unusable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("openaicompat: base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("openaicompat: base_url scheme must be http or https, got %q", u.Scheme)
	}
	if c.APIKey == "" {
		if c.APIKeyEnv != "" {
			return fmt.Errorf("openaicompat: environment variable %s is empty", c.APIKeyEnv)
		}
		return fmt.Errorf("openaicompat: one of api_key or api_key_env is required")
	}
	if c.Model == "" {
		return fmt.Errorf("openaicompat: model is required")
	}
	switch c.Endpoint {
	case EndpointChat, EndpointCompletions:
	default:
		return fmt.Errorf("openaicompat: endpoint must be %q or %q, got %q", EndpointChat, EndpointCompletions, c.Endpoint)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("openaicompat: max_tokens must not be negative")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("openaicompat: temperature must be within [0, 2]")
	}
	return nil
}
