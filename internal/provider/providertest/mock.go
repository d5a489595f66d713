// Package providertest provides test doubles for the provider package.
package providertest

import (
	"context"
	"sync"

	"github.com/flemzord/parley/internal/provider"
)

// MockProvider is a configurable test double for provider.Provider.
// Set the Func fields to control behavior. Unset funcs panic on call,
// except ModelNameFunc which defaults to "mock".
// All methods are safe for concurrent use.
type MockProvider struct {
	CompleteFunc      func(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error)
	StreamFunc        func(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error)
	GenerateImageFunc func(ctx context.Context, req provider.ImageRequest) (provider.ImageResponse, error)
	ModelNameFunc     func() string
	HealthCheckFunc   func(ctx context.Context) error

	mu            sync.Mutex
	completeCalls int
	streamCalls   int
	imageCalls    int
	healthCalls   int
	prompts       []string
}

// Complete delegates to CompleteFunc and records the prompt.
func (m *MockProvider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	m.mu.Lock()
	m.completeCalls++
	m.prompts = append(m.prompts, req.Prompt)
	m.mu.Unlock()
	return m.CompleteFunc(ctx, req)
}

// Stream delegates to StreamFunc and records the prompt.
func (m *MockProvider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	m.mu.Lock()
	m.streamCalls++
	m.prompts = append(m.prompts, req.Prompt)
	m.mu.Unlock()
	return m.StreamFunc(ctx, req)
}

// GenerateImage delegates to GenerateImageFunc.
func (m *MockProvider) GenerateImage(ctx context.Context, req provider.ImageRequest) (provider.ImageResponse, error) {
	m.mu.Lock()
	m.imageCalls++
	m.mu.Unlock()
	return m.GenerateImageFunc(ctx, req)
}

// ModelName delegates to ModelNameFunc.
func (m *MockProvider) ModelName() string {
	if m.ModelNameFunc == nil {
		return "mock"
	}
	return m.ModelNameFunc()
}

// HealthCheck delegates to HealthCheckFunc.
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	m.healthCalls++
	m.mu.Unlock()
	return m.HealthCheckFunc(ctx)
}

// CompleteCalls returns how many times Complete was called.
func (m *MockProvider) CompleteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completeCalls
}

// StreamCalls returns how many times Stream was called.
func (m *MockProvider) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// ImageCalls returns how many times GenerateImage was called.
func (m *MockProvider) ImageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.imageCalls
}

// HealthCalls returns how many times HealthCheck was called.
func (m *MockProvider) HealthCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthCalls
}

// Prompts returns a copy of every prompt received, in call order.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// TextStream returns a closed channel pre-filled with one chunk per fragment.
func TextStream(fragments ...string) <-chan provider.StreamChunk {
	ch := make(chan provider.StreamChunk, len(fragments))
	for _, f := range fragments {
		ch <- provider.StreamChunk{Text: f}
	}
	close(ch)
	return ch
}

// Interface guards.
var (
	_ provider.Provider       = (*MockProvider)(nil)
	_ provider.ImageGenerator = (*MockProvider)(nil)
	_ provider.HealthChecker  = (*MockProvider)(nil)
)
