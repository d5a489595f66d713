package provider_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/parley/internal/provider"
	"github.com/flemzord/parley/internal/provider/providertest"
)

// syncBuffer is a thread-safe bytes.Buffer for log assertions.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func okProvider(name string) *providertest.MockProvider {
	return &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{Text: name}, nil
		},
		StreamFunc: func(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			return providertest.TextStream(name), nil
		},
		GenerateImageFunc: func(_ context.Context, _ provider.ImageRequest) (provider.ImageResponse, error) {
			return provider.ImageResponse{B64JSON: name}, nil
		},
		ModelNameFunc:   func() string { return name },
		HealthCheckFunc: func(_ context.Context) error { return nil },
	}
}

func failProvider(err error) *providertest.MockProvider {
	return &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, err
		},
		StreamFunc: func(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			return nil, err
		},
		GenerateImageFunc: func(_ context.Context, _ provider.ImageRequest) (provider.ImageResponse, error) {
			return provider.ImageResponse{}, err
		},
		ModelNameFunc:   func() string { return "fail" },
		HealthCheckFunc: func(_ context.Context) error { return err },
	}
}

// textOnly hides the image and health capabilities of a provider.
type textOnly struct{ provider.Provider }

func mustChain(t *testing.T, entries []provider.ChainEntry, opts ...provider.ChainOption) *provider.Chain {
	t.Helper()
	chain, err := provider.NewChain(entries, opts...)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return chain
}

func TestNewChain_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := provider.NewChain(nil); !errors.Is(err, provider.ErrNoProvider) {
		t.Errorf("empty: err = %v, want ErrNoProvider", err)
	}
	_, err := provider.NewChain([]provider.ChainEntry{{Name: "broken"}})
	if !errors.Is(err, provider.ErrNoProvider) {
		t.Errorf("nil provider: err = %v, want ErrNoProvider", err)
	}
}

func TestChain_Complete(t *testing.T) {
	t.Parallel()

	chain := mustChain(t, []provider.ChainEntry{{Name: "p1", Provider: okProvider("p1")}})

	resp, err := chain.Complete(context.Background(), provider.CompletionRequest{Prompt: "Q: hi\nA: "})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "p1" {
		t.Errorf("text = %q, want %q", resp.Text, "p1")
	}
	if chain.ModelName() != "p1" {
		t.Errorf("ModelName() = %q, want p1", chain.ModelName())
	}
}

func TestChain_Failover(t *testing.T) {
	t.Parallel()

	primary := failProvider(provider.ErrProviderDown)
	fallback := okProvider("fallback")
	chain := mustChain(t, []provider.ChainEntry{
		{Name: "primary", Provider: primary},
		{Name: "fallback", Provider: fallback},
	})

	resp, err := chain.Complete(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "fallback" {
		t.Errorf("text = %q, want fallback", resp.Text)
	}

	// The primary is cooling down, so the next call goes straight to the fallback.
	if _, err := chain.Complete(context.Background(), provider.CompletionRequest{}); err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if primary.CompleteCalls() != 1 {
		t.Errorf("primary calls = %d, want 1", primary.CompleteCalls())
	}
	if fallback.CompleteCalls() != 2 {
		t.Errorf("fallback calls = %d, want 2", fallback.CompleteCalls())
	}

	status := chain.Status()
	if status[0].State != provider.StateCooldown || status[0].Failures != 1 {
		t.Errorf("primary status = %+v, want cooldown with 1 failure", status[0])
	}
	if status[1].State != provider.StateHealthy {
		t.Errorf("fallback status = %+v, want healthy", status[1])
	}
}

func TestChain_AllRateLimitedStaysRateLimit(t *testing.T) {
	t.Parallel()

	chain := mustChain(t, []provider.ChainEntry{
		{Name: "a", Provider: failProvider(provider.ErrRateLimit)},
		{Name: "b", Provider: failProvider(provider.ErrRateLimit)},
	})

	_, err := chain.Complete(context.Background(), provider.CompletionRequest{})
	if !errors.Is(err, provider.ErrAllProviders) {
		t.Fatalf("err = %v, want ErrAllProviders", err)
	}
	if !provider.IsRateLimit(err) {
		t.Errorf("err = %v, want it to still classify as a rate limit", err)
	}

	// Rate limits never cool a provider down, so both are tried again.
	_, err = chain.Complete(context.Background(), provider.CompletionRequest{})
	if !provider.IsRateLimit(err) {
		t.Errorf("second err = %v, want a rate limit", err)
	}
	if err := chain.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck = %v, want nil", err)
	}
	for _, st := range chain.Status() {
		if st.State != provider.StateHealthy || st.Failures != 0 {
			t.Errorf("status = %+v, want healthy", st)
		}
	}
}

func TestChain_RateLimitFailsOverWithoutCooldown(t *testing.T) {
	t.Parallel()

	limited := failProvider(provider.ErrRateLimit)
	fallback := okProvider("fallback")
	chain := mustChain(t, []provider.ChainEntry{
		{Name: "limited", Provider: limited},
		{Name: "fallback", Provider: fallback},
	})

	for range 3 {
		resp, err := chain.Complete(context.Background(), provider.CompletionRequest{})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if resp.Text != "fallback" {
			t.Errorf("text = %q, want fallback", resp.Text)
		}
	}
	if limited.CompleteCalls() != 3 {
		t.Errorf("limited calls = %d, want 3", limited.CompleteCalls())
	}
}

func TestChain_StreamMidStreamRateLimitKeepsHealth(t *testing.T) {
	t.Parallel()

	p := okProvider("p")
	p.StreamFunc = func(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		ch := make(chan provider.StreamChunk, 1)
		ch <- provider.StreamChunk{Err: provider.ErrRateLimit}
		close(ch)
		return ch, nil
	}
	chain := mustChain(t, []provider.ChainEntry{{Name: "p", Provider: p}})

	ch, err := chain.Stream(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for range ch {
	}
	if st := chain.Status()[0]; st.State != provider.StateHealthy {
		t.Errorf("state = %v, want healthy", st.State)
	}
}

func TestChain_NonRetryableStops(t *testing.T) {
	t.Parallel()

	primary := failProvider(provider.ErrContextLength)
	fallback := okProvider("fallback")
	chain := mustChain(t, []provider.ChainEntry{
		{Name: "primary", Provider: primary},
		{Name: "fallback", Provider: fallback},
	})

	_, err := chain.Complete(context.Background(), provider.CompletionRequest{})
	if !errors.Is(err, provider.ErrContextLength) {
		t.Fatalf("err = %v, want ErrContextLength", err)
	}
	if fallback.CompleteCalls() != 0 {
		t.Error("fallback must not be tried after a non-retryable error")
	}
	if st := chain.Status()[0]; st.State != provider.StateHealthy || st.Failures != 0 {
		t.Errorf("primary status = %+v, want untouched", st)
	}
}

func TestChain_ContextCanceled(t *testing.T) {
	t.Parallel()

	p := okProvider("p")
	chain := mustChain(t, []provider.ChainEntry{{Name: "p", Provider: p}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := chain.Complete(ctx, provider.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Complete err = %v, want context.Canceled", err)
	}
	if _, err := chain.Stream(ctx, provider.CompletionRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Stream err = %v, want context.Canceled", err)
	}
	if p.CompleteCalls()+p.StreamCalls() != 0 {
		t.Error("provider must not be called with a canceled context")
	}
}

func TestChain_StreamFailover(t *testing.T) {
	t.Parallel()

	chain := mustChain(t, []provider.ChainEntry{
		{Name: "down", Provider: failProvider(provider.ErrProviderDown)},
		{Name: "up", Provider: okProvider("up")},
	})

	ch, err := chain.Stream(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var got string
	for chunk := range ch {
		got += chunk.Text
	}
	if got != "up" {
		t.Errorf("stream = %q, want %q", got, "up")
	}
}

func TestChain_StreamMidStreamErrorDegradesHealth(t *testing.T) {
	t.Parallel()

	p := okProvider("p")
	p.StreamFunc = func(_ context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
		ch := make(chan provider.StreamChunk, 2)
		ch <- provider.StreamChunk{Text: "partial"}
		ch <- provider.StreamChunk{Err: provider.ErrProviderDown}
		close(ch)
		return ch, nil
	}
	chain := mustChain(t, []provider.ChainEntry{{Name: "p", Provider: p}})

	ch, err := chain.Stream(context.Background(), provider.CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var sawErr bool
	for chunk := range ch {
		if chunk.Err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Fatal("mid-stream error should be relayed")
	}
	if st := chain.Status()[0]; st.State != provider.StateCooldown {
		t.Errorf("state = %v, want cooldown", st.State)
	}
}

func TestChain_GenerateImage(t *testing.T) {
	t.Parallel()

	chain := mustChain(t, []provider.ChainEntry{
		{Name: "text", Provider: textOnly{okProvider("text")}},
		{Name: "images", Provider: okProvider("images")},
	})

	resp, err := chain.GenerateImage(context.Background(), provider.ImageRequest{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if resp.B64JSON != "images" {
		t.Errorf("B64JSON = %q, want %q", resp.B64JSON, "images")
	}
	if st := chain.Status()[0]; st.Failures != 0 {
		t.Errorf("text-only entry should be skipped without penalty, got %+v", st)
	}
}

func TestChain_GenerateImageUnsupported(t *testing.T) {
	t.Parallel()

	chain := mustChain(t, []provider.ChainEntry{{Name: "text", Provider: textOnly{okProvider("text")}}})

	_, err := chain.GenerateImage(context.Background(), provider.ImageRequest{Prompt: "a cat"})
	if !errors.Is(err, provider.ErrImageUnsupported) {
		t.Errorf("err = %v, want ErrImageUnsupported", err)
	}
}

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) ProviderCall(name, op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.calls = append(r.calls, name+"/"+op+"/"+outcome)
}

func TestChain_CallObserver(t *testing.T) {
	t.Parallel()

	rec := &callRecorder{}
	chain := mustChain(t, []provider.ChainEntry{
		{Name: "a", Provider: failProvider(provider.ErrRateLimit)},
		{Name: "b", Provider: okProvider("b")},
	}, provider.WithCallObserver(rec))

	if _, err := chain.Complete(context.Background(), provider.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	want := []string{"a/complete/error", "b/complete/ok"}
	if strings.Join(rec.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", rec.calls, want)
	}
}

func TestChain_LogsFailoverAndExhaustion(t *testing.T) {
	t.Parallel()

	logger, buf := testLogger()
	chain := mustChain(t, []provider.ChainEntry{
		{Name: "only", Provider: failProvider(provider.ErrProviderDown)},
	}, provider.WithLogger(logger))

	_, _ = chain.Complete(context.Background(), provider.CompletionRequest{})

	out := buf.String()
	for _, want := range []string{
		"provider: entered cooldown",
		"provider: call failed, failing over",
		"provider: all providers exhausted",
		"provider=only",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestChain_ProbeRevivesProvider(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	down := true
	p := okProvider("p")
	p.CompleteFunc = func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if down {
			return provider.CompletionResponse{}, provider.ErrProviderDown
		}
		return provider.CompletionResponse{Text: "back"}, nil
	}
	p.HealthCheckFunc = func(_ context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if down {
			return provider.ErrProviderDown
		}
		return nil
	}

	chain := mustChain(t, []provider.ChainEntry{{
		Name:     "p",
		Provider: p,
		Health:   provider.HealthConfig{MaxFailures: 1, CheckInterval: 5 * time.Millisecond},
	}})
	chain.Start(context.Background())
	defer chain.Stop()

	_, _ = chain.Complete(context.Background(), provider.CompletionRequest{})
	if st := chain.Status()[0]; st.State != provider.StateDead {
		t.Fatalf("state = %v, want dead", st.State)
	}

	mu.Lock()
	down = false
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for chain.Status()[0].State != provider.StateHealthy {
		if time.Now().After(deadline) {
			t.Fatal("provider was not revived by health probes")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if p.HealthCalls() == 0 {
		t.Error("expected at least one health probe")
	}
}

func TestChain_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	chain := mustChain(t, []provider.ChainEntry{{Name: "p", Provider: okProvider("p")}})
	chain.Start(context.Background())
	chain.Start(context.Background())
	chain.Stop()
	chain.Stop()
}

func TestChain_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	chain := mustChain(t, []provider.ChainEntry{
		{Name: "a", Provider: okProvider("a")},
		{Name: "b", Provider: okProvider("b")},
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := chain.Complete(context.Background(), provider.CompletionRequest{}); err != nil {
				t.Errorf("Complete: %v", err)
			}
			_ = chain.Status()
		}()
	}
	wg.Wait()
}
