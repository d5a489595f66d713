package provider

import "errors"

// Sentinel errors for provider operations.
var (
	// ErrRateLimit indicates the provider returned a rate limit response.
	ErrRateLimit = errors.New("provider: rate limited")

	// ErrContextLength indicates the prompt exceeded the model's context window.
	ErrContextLength = errors.New("provider: context length exceeded")

	// ErrProviderDown indicates the provider is temporarily unavailable.
	ErrProviderDown = errors.New("provider: unavailable")

	// ErrAuthentication indicates the provider rejected the credentials.
	ErrAuthentication = errors.New("provider: authentication failed")

	// ErrAllProviders indicates every provider in the chain was exhausted.
	ErrAllProviders = errors.New("provider: all providers failed")

	// ErrNoProvider indicates no provider is configured.
	ErrNoProvider = errors.New("provider: no provider configured")

	// ErrNoChoices indicates a response carried no choices.
	ErrNoChoices = errors.New("provider: response has no choices")

	// ErrNoText indicates a choice carried no text.
	ErrNoText = errors.New("provider: choice has no text")

	// ErrNoImage indicates an image response carried no image data.
	ErrNoImage = errors.New("provider: response has no image")

	// ErrImageUnsupported indicates no configured provider can generate images.
	ErrImageUnsupported = errors.New("provider: image generation not supported")
)

// IsRetryable reports whether the error is transient and the request
// can be retried with a different provider or after a delay.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown)
}

// IsRateLimit reports whether err is or wraps ErrRateLimit.
func IsRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimit)
}
