// Package openaicompat provides a provider for any API implementing the
// OpenAI completions, chat completions and image generation interfaces
// (OpenAI, Azure proxies, vLLM, LiteLLM, Ollama, ...) via a configurable
// base_url.
package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/flemzord/parley/internal/provider"
)

// Provider is an OpenAI-compatible language model provider.
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New validates cfg and returns a ready Provider. A nil logger discards output.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{
		config: cfg,
		// A client-wide timeout would cut long SSE streams; the request
		// context bounds the call instead.
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
		logger: logger.With("model", cfg.Model, "endpoint", string(cfg.Endpoint)),
	}, nil
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	resp, err := p.post(ctx, p.completionPath(), p.buildRequest(req, false))
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return provider.CompletionResponse{}, handleErrorResponse(resp)
	}

	var out oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("openaicompat: decode response: %w", err)
	}

	cr, err := parseResponse(out)
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	p.logger.Debug("openaicompat: completion done",
		"finish_reason", string(cr.FinishReason),
		"total_tokens", cr.Usage.TotalTokens,
	)
	return cr, nil
}

// Stream implements provider.Provider.
func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	resp, err := p.post(ctx, p.completionPath(), p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		return nil, handleErrorResponse(resp)
	}

	// SSE lines can be long; allow up to 1 MiB.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	out := make(chan provider.StreamChunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		readSSE(ctx, scanner, p.config.Endpoint, out)
	}()
	return out, nil
}

// GenerateImage implements provider.ImageGenerator.
func (p *Provider) GenerateImage(ctx context.Context, req provider.ImageRequest) (provider.ImageResponse, error) {
	size := req.Size
	if size == "" {
		size = provider.DefaultImageSize
	}
	body := oaiImageRequest{
		Model:          p.config.ImageModel,
		Prompt:         req.Prompt,
		N:              1,
		Size:           size,
		ResponseFormat: "b64_json",
		User:           req.User,
	}

	resp, err := p.post(ctx, "/images/generations", body)
	if err != nil {
		return provider.ImageResponse{}, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return provider.ImageResponse{}, handleErrorResponse(resp)
	}

	var out oaiImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return provider.ImageResponse{}, fmt.Errorf("openaicompat: decode image response: %w", err)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return provider.ImageResponse{}, provider.ErrNoImage
	}
	return provider.ImageResponse{B64JSON: out.Data[0].B64JSON}, nil
}

// ModelName implements provider.Provider.
func (p *Provider) ModelName() string {
	return p.config.Model
}

// HealthCheck implements provider.HealthChecker by probing /models.
func (p *Provider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/models", nil)
	if err != nil {
		return err
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health check: %w", provider.ErrProviderDown, err)
	}
	defer resp.Body.Close()               //nolint:errcheck // best-effort close
	_, _ = io.Copy(io.Discard, resp.Body) // drain body

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health check returned HTTP %d", provider.ErrProviderDown, resp.StatusCode)
	}
	return nil
}

// completionPath returns the API path for the configured endpoint.
func (p *Provider) completionPath() string {
	if p.config.Endpoint == EndpointCompletions {
		return "/completions"
	}
	return "/chat/completions"
}

// Compile-time interface assertions.
var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.ImageGenerator = (*Provider)(nil)
	_ provider.HealthChecker  = (*Provider)(nil)
)
