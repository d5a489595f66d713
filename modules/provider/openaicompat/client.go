package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flemzord/parley/internal/provider"
)

// OpenAI wire types. One request type covers both endpoints: chat requests
// set Messages, completions requests set Prompt.

type oaiRequest struct {
	Model         string            `json:"model"`
	Prompt        *string           `json:"prompt,omitempty"`
	Messages      []oaiMessage      `json:"messages,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *oaiStreamOptions `json:"stream_options,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	Stop          []string          `json:"stop,omitempty"`
	User          string            `json:"user,omitempty"`
}

type oaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type oaiMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   *oaiUsage   `json:"usage,omitempty"`
}

// oaiChoice matches completions (Text), chat (Message) and streaming chat
// (Delta) choices.
type oaiChoice struct {
	Text         *string     `json:"text,omitempty"`
	Message      *oaiMessage `json:"message,omitempty"`
	Delta        *oaiMessage `json:"delta,omitempty"`
	FinishReason *string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaiImageRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
	User           string `json:"user,omitempty"`
}

type oaiImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// buildRequest converts a provider.CompletionRequest into the wire format
// of the configured endpoint. Config values fill unset request fields.
func (p *Provider) buildRequest(req provider.CompletionRequest, stream bool) oaiRequest {
	out := oaiRequest{
		Model:       p.config.Model,
		Stream:      stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		User:        req.User,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = p.config.MaxTokens
	}
	if out.Temperature == nil {
		out.Temperature = p.config.Temperature
	}

	prompt := req.Prompt
	if p.config.Endpoint == EndpointCompletions {
		out.Prompt = &prompt
	} else {
		out.Messages = []oaiMessage{{Role: "user", Content: &prompt}}
	}

	// Ask for usage in the final streaming chunk so streamed replies are
	// accounted for too.
	if stream {
		out.StreamOptions = &oaiStreamOptions{IncludeUsage: true}
	}
	return out
}

// choiceText extracts the generated text from whichever field the
// endpoint populated. ok is false when none carries text.
func choiceText(c oaiChoice) (text string, ok bool) {
	switch {
	case c.Text != nil:
		return *c.Text, true
	case c.Message != nil && c.Message.Content != nil:
		return *c.Message.Content, true
	case c.Delta != nil && c.Delta.Content != nil:
		return *c.Delta.Content, true
	default:
		return "", false
	}
}

// parseResponse converts a non-streaming response.
func parseResponse(resp oaiResponse) (provider.CompletionResponse, error) {
	var cr provider.CompletionResponse
	if resp.Usage != nil {
		cr.Usage = mapUsage(*resp.Usage)
	}
	if len(resp.Choices) == 0 {
		return cr, provider.ErrNoChoices
	}

	choice := resp.Choices[0]
	text, ok := choiceText(choice)
	if !ok {
		return cr, provider.ErrNoText
	}
	cr.Text = text
	if choice.FinishReason != nil {
		cr.FinishReason = mapFinishReason(*choice.FinishReason)
	}
	return cr, nil
}

func mapUsage(u oaiUsage) provider.TokenUsage {
	return provider.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// mapFinishReason converts an OpenAI finish_reason to a provider.FinishReason.
// Unknown values pass through unchanged.
func mapFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "stop":
		return provider.FinishReasonStop
	case "length":
		return provider.FinishReasonLength
	case "content_filter":
		return provider.FinishReasonFiltering
	default:
		return provider.FinishReason(reason)
	}
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}
}

// post sends body as JSON to path under the configured base URL.
func (p *Provider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		// Caller cancellation is not a provider failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", provider.ErrProviderDown, err)
	}
	return resp, nil
}

// maxErrorBodySize caps how much of an error response body is read.
const maxErrorBodySize = 4096

// handleErrorResponse maps HTTP error statuses to provider sentinel errors.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", provider.ErrRateLimit, body)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", provider.ErrProviderDown, resp.StatusCode, body)
	case resp.StatusCode == http.StatusBadRequest && isContextLengthError(body):
		return fmt.Errorf("%w: %s", provider.ErrContextLength, body)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", provider.ErrAuthentication, resp.StatusCode, body)
	default:
		return fmt.Errorf("openaicompat: unexpected status %d: %s", resp.StatusCode, body)
	}
}

func isContextLengthError(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "context_length_exceeded") ||
		strings.Contains(lower, "context length") ||
		strings.Contains(lower, "maximum context")
}
