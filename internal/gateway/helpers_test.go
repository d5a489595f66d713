package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/parley/internal/assistant"
	"github.com/flemzord/parley/internal/conversation"
	"github.com/flemzord/parley/internal/provider"
	"github.com/flemzord/parley/internal/provider/providertest"
)

// textOnly hides the image capability of a provider.
type textOnly struct{ provider.Provider }

// echoProvider answers every prompt with a fixed text.
func echoProvider(answer string) *providertest.MockProvider {
	return &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{Text: answer}, nil
		},
		StreamFunc: func(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			return providertest.TextStream(answer[:len(answer)/2], answer[len(answer)/2:]), nil
		},
		GenerateImageFunc: func(_ context.Context, _ provider.ImageRequest) (provider.ImageResponse, error) {
			return provider.ImageResponse{B64JSON: "aW1n"}, nil
		},
	}
}

// newTestGateway builds a gateway over a fresh store and llm.
func newTestGateway(t *testing.T, cfg Config, llm provider.Provider, opts ...Option) (*Gateway, *conversation.Store) {
	t.Helper()
	store := conversation.NewStore(conversation.Config{})
	asst := assistant.New(store, llm, assistant.Config{})
	return New(cfg, asst, opts...), store
}

// postJSON sends body to path and returns the recorder.
func postJSON(t *testing.T, h http.Handler, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

// fakeHealth is a static HealthReporter.
type fakeHealth struct {
	statuses []provider.HealthStatus
	err      error
}

func (f fakeHealth) Status() []provider.HealthStatus   { return f.statuses }
func (f fakeHealth) HealthCheck(context.Context) error { return f.err }
