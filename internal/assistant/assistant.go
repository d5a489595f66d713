// Package assistant is the reply façade every channel calls into. It owns
// the clear-memory command, prompt construction from the conversation
// store, the single rate-limit retry toward the provider and the rule that
// a turn is recorded only after a complete, uncancelled answer.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flemzord/parley/internal/conversation"
	"github.com/flemzord/parley/internal/provider"
)

// Kind selects how a request is handled.
type Kind string

// Request kinds.
const (
	KindText        Kind = "text"
	KindImageCreate Kind = "image_create"
)

// ParseKind converts a wire value to a Kind. Empty means KindText.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return KindText, nil
	case "image", "image_create":
		return KindImageCreate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Request is one inbound message.
type Request struct {
	Query  string
	UserID string
	Kind   Kind
}

// Response is the answer to a Request. For image requests Image holds the
// base64 payload and Text is empty, unless the apology was returned.
type Response struct {
	Text    string `json:"text,omitempty"`
	Image   string `json:"image,omitempty"`
	Cleared bool   `json:"cleared,omitempty"`
}

// Observer receives reply outcomes and token usage.
type Observer interface {
	ObserveReply(kind, outcome string, elapsed time.Duration)
	ObserveUsage(u provider.TokenUsage)
}

// UsageRecorder persists token usage per user.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID, model string, u provider.TokenUsage) error
}

// Outcome labels, matching the telemetry package.
const (
	outcomeOK        = "ok"
	outcomeCleared   = "cleared"
	outcomeApology   = "apology"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// Assistant answers requests using a conversation store and a provider.
type Assistant struct {
	store    *conversation.Store
	llm      provider.Provider
	images   provider.ImageGenerator
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
	usage    UsageRecorder

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures optional Assistant behavior.
type Option func(*Assistant)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// WithTracer sets the tracer. Default: no-op.
func WithTracer(t trace.Tracer) Option {
	return func(a *Assistant) { a.tracer = t }
}

// WithObserver sets the reply observer.
func WithObserver(o Observer) Option {
	return func(a *Assistant) { a.observer = o }
}

// WithUsageRecorder sets where token usage is persisted.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(a *Assistant) { a.usage = r }
}

// WithImageGenerator sets the image backend. When omitted and llm
// implements provider.ImageGenerator, llm is used.
func WithImageGenerator(g provider.ImageGenerator) Option {
	return func(a *Assistant) { a.images = g }
}

// WithSleep replaces the retry delay function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Assistant) { a.sleep = fn }
}

// New creates an Assistant.
func New(store *conversation.Store, llm provider.Provider, cfg Config, opts ...Option) *Assistant {
	cfg.Defaults()
	a := &Assistant{
		store: store,
		llm:   llm,
		cfg:   cfg,
		sleep: sleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	if a.tracer == nil {
		a.tracer = noop.NewTracerProvider().Tracer("")
	}
	if a.images == nil {
		if gen, ok := llm.(provider.ImageGenerator); ok {
			a.images = gen
		}
	}
	return a
}

// Store returns the conversation store backing the assistant.
func (a *Assistant) Store() *conversation.Store {
	return a.store
}

// ClearCommand returns the query that wipes a user's memory.
func (a *Assistant) ClearCommand() string {
	return a.cfg.ClearCommand
}

// ClearReply returns the text sent after a memory wipe.
func (a *Assistant) ClearReply() string {
	return a.cfg.ClearReply
}

// ClearMemory wipes the user's session.
func (a *Assistant) ClearMemory(userID string) {
	a.store.Clear(userID)
	a.logger.Info("assistant: memory cleared", "user_id", userID)
}

// Reply answers req. Permanent provider failures are returned wrapped in
// ErrReplyFailed with an empty Response. A provider still rate limiting
// after one retry yields the configured apology and a nil error. Nothing is
// recorded unless a complete answer arrived before ctx was cancelled.
func (a *Assistant) Reply(ctx context.Context, req Request) (Response, error) {
	ctx, span := a.startSpan(ctx, "assistant.reply", req)
	defer span.End()

	start := a.now()
	var (
		resp Response
		err  error
	)
	switch req.Kind {
	case KindText, "":
		resp, err = a.replyText(ctx, req)
	case KindImageCreate:
		resp, err = a.replyImage(ctx, req)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}
	return a.finish(ctx, span, req, start, resp, err)
}

func (a *Assistant) replyText(ctx context.Context, req Request) (Response, error) {
	if a.isClearCommand(req.Query) {
		a.ClearMemory(req.UserID)
		return Response{Text: a.cfg.ClearReply, Cleared: true}, nil
	}

	prompt := a.store.BuildPrompt(req.UserID, req.Query)
	a.logger.Debug("assistant: prompt built", "user_id", req.UserID, "prompt_chars", len(prompt))

	var out provider.CompletionResponse
	err := a.withRetry(ctx, "complete", func(ctx context.Context) error {
		var err error
		out, err = a.llm.Complete(ctx, a.completionRequest(req, prompt))
		return err
	})
	if err != nil {
		return Response{}, err
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	a.commit(ctx, req, out.Text, out.Usage)
	return Response{Text: out.Text}, nil
}

func (a *Assistant) replyImage(ctx context.Context, req Request) (Response, error) {
	if a.images == nil {
		return Response{}, provider.ErrImageUnsupported
	}

	var out provider.ImageResponse
	err := a.withRetry(ctx, "image", func(ctx context.Context) error {
		var err error
		out, err = a.images.GenerateImage(ctx, provider.ImageRequest{
			Prompt: req.Query,
			Size:   a.cfg.ImageSize,
			User:   req.UserID,
		})
		return err
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Image: out.B64JSON}, nil
}

// commit records the turn and usage for a completed answer.
func (a *Assistant) commit(ctx context.Context, req Request, answer string, usage provider.TokenUsage) {
	if req.Query != "" && answer != "" {
		a.store.RecordTurn(req.UserID, req.Query, answer)
	}
	if usage.TotalTokens == 0 && usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		return
	}
	if a.observer != nil {
		a.observer.ObserveUsage(usage)
	}
	if a.usage != nil {
		// The answer is already delivered; a ledger failure only loses accounting.
		if err := a.usage.RecordUsage(context.WithoutCancel(ctx), req.UserID, a.llm.ModelName(), usage); err != nil {
			a.logger.Warn("assistant: usage not recorded", "user_id", req.UserID, "error", err)
		}
	}
}

// finish converts internal errors to the public contract and reports the
// outcome to logs, metrics and the span.
func (a *Assistant) finish(ctx context.Context, span trace.Span, req Request, start time.Time, resp Response, err error) (Response, error) {
	outcome := outcomeOK
	switch {
	case err == nil && resp.Cleared:
		outcome = outcomeCleared
	case errors.Is(err, errTooFast):
		outcome = outcomeApology
		resp, err = Response{Text: a.cfg.Apology}, nil
	case err != nil && ctx.Err() != nil:
		outcome = outcomeCancelled
		err = ctx.Err()
	case err != nil && !errors.Is(err, ErrUnknownKind):
		outcome = outcomeError
		err = fmt.Errorf("%w: %w", ErrReplyFailed, err)
	case err != nil:
		outcome = outcomeError
	}

	elapsed := a.now().Sub(start)
	kind := string(req.Kind)
	if kind == "" {
		kind = string(KindText)
	}
	if a.observer != nil {
		a.observer.ObserveReply(kind, outcome, elapsed)
	}

	span.SetAttributes(attribute.String("parley.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		a.logger.Warn("assistant: reply failed",
			"user_id", req.UserID,
			"kind", kind,
			"outcome", outcome,
			"duration", elapsed,
			"error", err,
		)
		return Response{}, err
	}

	a.logger.Info("assistant: replied",
		"user_id", req.UserID,
		"kind", kind,
		"outcome", outcome,
		"duration", elapsed,
	)
	return resp, nil
}

// withRetry runs fn and, if it is rate limited, runs it exactly once more
// after the configured delay. A second rate limit becomes errTooFast.
func (a *Assistant) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if !provider.IsRateLimit(err) {
		return err
	}

	a.logger.Warn("assistant: rate limited, retrying",
		"op", op,
		"delay", a.cfg.RetryDelay,
		"error", err,
	)
	trace.SpanFromContext(ctx).AddEvent("rate_limit_retry")
	if err := a.sleep(ctx, a.cfg.RetryDelay); err != nil {
		return err
	}

	err = fn(ctx)
	if provider.IsRateLimit(err) {
		return fmt.Errorf("%w: %w", errTooFast, err)
	}
	return err
}

func (a *Assistant) isClearCommand(query string) bool {
	return strings.TrimSpace(query) == a.cfg.ClearCommand
}

func (a *Assistant) completionRequest(req Request, prompt string) provider.CompletionRequest {
	return provider.CompletionRequest{
		Prompt:    prompt,
		MaxTokens: a.cfg.MaxTokens,
		Stop:      a.cfg.Stop,
		User:      req.UserID,
	}
}

func (a *Assistant) startSpan(ctx context.Context, name string, req Request) (context.Context, trace.Span) {
	kind := req.Kind
	if kind == "" {
		kind = KindText
	}
	return a.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("parley.kind", string(kind)),
		attribute.Int("parley.query_chars", len([]rune(req.Query))),
	))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
