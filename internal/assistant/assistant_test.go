package assistant_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/flemzord/parley/internal/assistant"
	"github.com/flemzord/parley/internal/conversation"
	"github.com/flemzord/parley/internal/provider"
	"github.com/flemzord/parley/internal/provider/providertest"
)

// fakeSleep records requested delays without waiting.
type fakeSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeSleep) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeSleep) Calls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

type fakeObserver struct {
	mu       sync.Mutex
	outcomes []string
	tokens   int
}

func (o *fakeObserver) ObserveReply(kind, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, kind+"/"+outcome)
}

func (o *fakeObserver) ObserveUsage(u provider.TokenUsage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens += u.TotalTokens
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []string
}

func (l *fakeLedger) RecordUsage(_ context.Context, userID, model string, u provider.TokenUsage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s/%s/%d", userID, model, u.TotalTokens))
	return nil
}

func answering(text string) *providertest.MockProvider {
	return &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{Text: text, Usage: provider.TokenUsage{TotalTokens: 12}}, nil
		},
		ModelNameFunc: func() string { return "test-model" },
	}
}

func newAssistant(llm provider.Provider, opts ...assistant.Option) (*assistant.Assistant, *conversation.Store) {
	store := conversation.NewStore(conversation.Config{MaxPromptBudget: 1000})
	sleeper := &fakeSleep{}
	opts = append([]assistant.Option{assistant.WithSleep(sleeper.Sleep)}, opts...)
	return assistant.New(store, llm, assistant.Config{}, opts...), store
}

func TestReply_RecordsTurn(t *testing.T) {
	t.Parallel()

	llm := answering("4")
	a, store := newAssistant(llm)

	resp, err := a.Reply(context.Background(), assistant.Request{Query: "What is 2+2?", UserID: "u", Kind: assistant.KindText})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if resp.Text != "4" {
		t.Errorf("Text = %q, want 4", resp.Text)
	}

	turns := store.Turns("u")
	if len(turns) != 1 || turns[0] != (conversation.Turn{Question: "What is 2+2?", Answer: "4"}) {
		t.Errorf("turns = %+v", turns)
	}
}

func TestReply_PromptCarriesHistory(t *testing.T) {
	t.Parallel()

	llm := answering("6")
	store := conversation.NewStore(conversation.Config{Preamble: "You are helpful."})
	store.RecordTurn("u", "What is 2+2?", "4")
	a := assistant.New(store, llm, assistant.Config{})

	if _, err := a.Reply(context.Background(), assistant.Request{Query: "And 3+3?", UserID: "u"}); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	want := "You are helpful." + conversation.BoundaryMarker +
		"Q: What is 2+2?\n\n\nA: 4" + conversation.BoundaryMarker +
		"Q: And 3+3?\nA: "
	if got := llm.Prompts(); len(got) != 1 || got[0] != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
}

func TestReply_ClearCommand(t *testing.T) {
	t.Parallel()

	llm := answering("unused")
	a, store := newAssistant(llm)
	store.RecordTurn("u", "q1", "a1")
	store.RecordTurn("u", "q2", "a2")

	resp, err := a.Reply(context.Background(), assistant.Request{Query: assistant.DefaultClearCommand, UserID: "u"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if resp.Text != assistant.DefaultClearReply || !resp.Cleared {
		t.Errorf("resp = %+v", resp)
	}
	if turns := store.Turns("u"); len(turns) != 0 {
		t.Errorf("turns after clear = %+v", turns)
	}
	if llm.CompleteCalls() != 0 {
		t.Error("clear command must not call the model")
	}
}

func TestReply_CustomClearCommand(t *testing.T) {
	t.Parallel()

	llm := answering("unused")
	store := conversation.NewStore(conversation.Config{})
	store.RecordTurn("u", "q", "a")
	a := assistant.New(store, llm, assistant.Config{ClearCommand: "/forget", ClearReply: "Forgotten."})

	resp, err := a.Reply(context.Background(), assistant.Request{Query: " /forget ", UserID: "u"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if resp.Text != "Forgotten." {
		t.Errorf("Text = %q", resp.Text)
	}
	if len(store.Turns("u")) != 0 {
		t.Error("session not cleared")
	}
}

func TestReply_EmptyAnswerNotRecorded(t *testing.T) {
	t.Parallel()

	a, store := newAssistant(answering(""))
	if _, err := a.Reply(context.Background(), assistant.Request{Query: "hello", UserID: "u"}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(store.Turns("u")) != 0 {
		t.Error("empty answer must not be recorded")
	}
}

func TestReply_PermanentErrorRecordsNothing(t *testing.T) {
	t.Parallel()

	llm := &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, provider.ErrNoChoices
		},
	}
	obs := &fakeObserver{}
	a, store := newAssistant(llm, assistant.WithObserver(obs))
	store.RecordTurn("u", "old", "turn")

	resp, err := a.Reply(context.Background(), assistant.Request{Query: "hi", UserID: "u"})
	if !errors.Is(err, assistant.ErrReplyFailed) || !errors.Is(err, provider.ErrNoChoices) {
		t.Fatalf("err = %v, want ErrReplyFailed wrapping ErrNoChoices", err)
	}
	if resp != (assistant.Response{}) {
		t.Errorf("resp = %+v, want empty", resp)
	}
	if turns := store.Turns("u"); len(turns) != 1 {
		t.Errorf("session mutated on failure: %+v", turns)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "text/error" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}

func TestReply_RateLimitRetrySucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	llm := &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			calls++
			if calls == 1 {
				return provider.CompletionResponse{}, provider.ErrRateLimit
			}
			return provider.CompletionResponse{Text: "finally"}, nil
		},
	}
	sleeper := &fakeSleep{}
	store := conversation.NewStore(conversation.Config{})
	a := assistant.New(store, llm, assistant.Config{RetryDelay: 3 * time.Second}, assistant.WithSleep(sleeper.Sleep))

	resp, err := a.Reply(context.Background(), assistant.Request{Query: "hi", UserID: "u"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if resp.Text != "finally" {
		t.Errorf("Text = %q", resp.Text)
	}
	if got := sleeper.Calls(); len(got) != 1 || got[0] != 3*time.Second {
		t.Errorf("sleeps = %v, want one 3s delay", got)
	}
	if len(store.Turns("u")) != 1 {
		t.Error("successful retry should record the turn")
	}
}

func TestReply_RateLimitTwiceApologizes(t *testing.T) {
	t.Parallel()

	llm := &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, fmt.Errorf("wrapped: %w", provider.ErrRateLimit)
		},
	}
	obs := &fakeObserver{}
	a, store := newAssistant(llm, assistant.WithObserver(obs))

	resp, err := a.Reply(context.Background(), assistant.Request{Query: "hi", UserID: "u"})
	if err != nil {
		t.Fatalf("Reply: %v, want nil error with apology", err)
	}
	if resp.Text != assistant.DefaultApology {
		t.Errorf("Text = %q, want apology", resp.Text)
	}
	if llm.CompleteCalls() != 2 {
		t.Errorf("calls = %d, want exactly 2", llm.CompleteCalls())
	}
	if len(store.Turns("u")) != 0 {
		t.Error("apology must not be recorded")
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != "text/apology" {
		t.Errorf("outcomes = %v", obs.outcomes)
	}
}

func TestReply_RateLimitedChainApologizesEveryTime(t *testing.T) {
	t.Parallel()

	llm := &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, provider.ErrRateLimit
		},
	}
	chain, err := provider.NewChain([]provider.ChainEntry{{
		Name:     "only",
		Provider: llm,
		Health:   provider.HealthConfig{InitialBackoff: time.Hour},
	}})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	sleeper := &fakeSleep{}
	store := conversation.NewStore(conversation.Config{})
	a := assistant.New(store, chain, assistant.Config{RetryDelay: 50 * time.Millisecond}, assistant.WithSleep(sleeper.Sleep))

	for i := range 3 {
		resp, err := a.Reply(context.Background(), assistant.Request{Query: "hi", UserID: "u"})
		if err != nil {
			t.Fatalf("reply %d: %v, want apology", i, err)
		}
		if resp.Text != assistant.DefaultApology {
			t.Errorf("reply %d: Text = %q, want apology", i, resp.Text)
		}
		if got, want := llm.CompleteCalls(), 2*(i+1); got != want {
			t.Errorf("reply %d: model calls = %d, want %d", i, got, want)
		}
	}
	if len(sleeper.Calls()) != 3 {
		t.Errorf("sleeps = %v, want one per reply", sleeper.Calls())
	}
}

func TestReply_CancelledDuringRetryDelay(t *testing.T) {
	t.Parallel()

	llm := &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, provider.ErrRateLimit
		},
	}
	store := conversation.NewStore(conversation.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	a := assistant.New(store, llm, assistant.Config{}, assistant.WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))

	_, err := a.Reply(ctx, assistant.Request{Query: "hi", UserID: "u"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if llm.CompleteCalls() != 1 {
		t.Errorf("calls = %d, want 1", llm.CompleteCalls())
	}
}

func TestReply_CancelledAfterModelReturns(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	llm := &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			cancel()
			return provider.CompletionResponse{Text: "late"}, nil
		},
	}
	a, store := newAssistant(llm)

	_, err := a.Reply(ctx, assistant.Request{Query: "hi", UserID: "u"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(store.Turns("u")) != 0 {
		t.Error("cancelled reply must not be recorded")
	}
}

func TestReply_Image(t *testing.T) {
	t.Parallel()

	llm := &providertest.MockProvider{
		GenerateImageFunc: func(_ context.Context, req provider.ImageRequest) (provider.ImageResponse, error) {
			if req.Prompt != "a red fox" || req.User != "u" {
				return provider.ImageResponse{}, fmt.Errorf("unexpected request %+v", req)
			}
			return provider.ImageResponse{B64JSON: "aGk="}, nil
		},
	}
	a, store := newAssistant(llm)
	store.RecordTurn("u", "q", "a")

	resp, err := a.Reply(context.Background(), assistant.Request{Query: "a red fox", UserID: "u", Kind: assistant.KindImageCreate})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if resp.Image != "aGk=" {
		t.Errorf("Image = %q", resp.Image)
	}
	if turns := store.Turns("u"); len(turns) != 1 {
		t.Errorf("image request touched the session: %+v", turns)
	}
	if llm.CompleteCalls() != 0 {
		t.Error("image request must not call Complete")
	}
}

func TestReply_ImageClearCommandIsAPrompt(t *testing.T) {
	t.Parallel()

	llm := &providertest.MockProvider{
		GenerateImageFunc: func(_ context.Context, _ provider.ImageRequest) (provider.ImageResponse, error) {
			return provider.ImageResponse{B64JSON: "x"}, nil
		},
	}
	a, store := newAssistant(llm)
	store.RecordTurn("u", "q", "a")

	if _, err := a.Reply(context.Background(), assistant.Request{Query: assistant.DefaultClearCommand, UserID: "u", Kind: assistant.KindImageCreate}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(store.Turns("u")) != 1 {
		t.Error("clear command only applies to text requests")
	}
}

func TestReply_UnknownKind(t *testing.T) {
	t.Parallel()

	a, _ := newAssistant(answering("x"))
	_, err := a.Reply(context.Background(), assistant.Request{Query: "hi", UserID: "u", Kind: "video"})
	if !errors.Is(err, assistant.ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestReply_UsageRecorded(t *testing.T) {
	t.Parallel()

	ledger := &fakeLedger{}
	obs := &fakeObserver{}
	a, _ := newAssistant(answering("ok"), assistant.WithUsageRecorder(ledger), assistant.WithObserver(obs))

	if _, err := a.Reply(context.Background(), assistant.Request{Query: "hi", UserID: "u"}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(ledger.entries) != 1 || ledger.entries[0] != "u/test-model/12" {
		t.Errorf("ledger = %v", ledger.entries)
	}
	if obs.tokens != 12 {
		t.Errorf("observed tokens = %d, want 12", obs.tokens)
	}
}

func TestReply_Span(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	a, _ := newAssistant(answering("ok"), assistant.WithTracer(tp.Tracer("test")))

	if _, err := a.Reply(context.Background(), assistant.Request{Query: "hi", UserID: "u"}); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "assistant.reply" {
		t.Fatalf("spans = %v", spans)
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["parley.kind"] != "text" || attrs["parley.outcome"] != "ok" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestReply_ConcurrentSameUser(t *testing.T) {
	t.Parallel()

	llm := &providertest.MockProvider{
		CompleteFunc: func(_ context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{Text: "echo"}, nil
		},
	}
	store := conversation.NewStore(conversation.Config{MaxPromptBudget: 1 << 20})
	a := assistant.New(store, llm, assistant.Config{})

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Reply(context.Background(), assistant.Request{Query: fmt.Sprintf("q%d", i), UserID: "u"}); err != nil {
				t.Errorf("Reply: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(store.Turns("u")); got != n {
		t.Errorf("turns = %d, want %d", got, n)
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want assistant.Kind
		err  bool
	}{
		{"", assistant.KindText, false},
		{"TEXT", assistant.KindText, false},
		{"image", assistant.KindImageCreate, false},
		{"image_create", assistant.KindImageCreate, false},
		{"voice", "", true},
	}
	for _, tt := range tests {
		got, err := assistant.ParseKind(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseKind(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := assistant.Config{RetryDelay: -time.Second}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "retry_delay") {
		t.Errorf("Validate = %v", err)
	}
}
