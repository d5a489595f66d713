package provider

import "context"

// Provider is the interface for communicating with a language model.
// Concrete implementations live under modules/provider.
type Provider interface {
	// Complete sends the rendered prompt and returns the full answer.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream sends the rendered prompt and returns a channel of fragments.
	// Initial connection errors are returned directly. Mid-stream errors
	// are delivered via StreamChunk.Err. The channel is closed when the
	// stream ends.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}

// ImageGenerator is implemented by providers that can create images.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResponse, error)
}

// HealthChecker is an optional interface that providers may implement
// to support active health probing. While a provider is cooling down or
// dead, the chain calls HealthCheck periodically to detect recovery.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
