// Package provider defines the Provider interface for talking to language
// models, health tracking with exponential backoff, and a failover chain
// that presents several providers as one.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// nopHandler is a slog.Handler that discards all records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// CallObserver is notified after every provider call made by the chain.
// op is one of "complete", "stream" or "image".
type CallObserver interface {
	ProviderCall(name, op string, elapsed time.Duration, err error)
}

// ChainEntry configures a single provider in the chain. Entries are tried
// in order: the first is the primary, the rest are fallbacks.
type ChainEntry struct {
	Name     string
	Provider Provider
	Health   HealthConfig
}

type chainEntry struct {
	ChainEntry
	health *healthTracker
}

// ChainOption configures optional Chain behavior.
type ChainOption func(*Chain)

// WithLogger injects a structured logger. When nil or omitted, logs are discarded.
func WithLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l }
}

// WithCallObserver registers an observer for call latency and outcome.
func WithCallObserver(o CallObserver) ChainOption {
	return func(c *Chain) { c.observer = o }
}

// Chain orchestrates failover across providers. It implements Provider,
// ImageGenerator and HealthChecker so callers never see individual entries.
type Chain struct {
	entries  []chainEntry
	logger   *slog.Logger
	observer CallObserver

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewChain creates a chain from the given entries.
func NewChain(entries []ChainEntry, opts ...ChainOption) (*Chain, error) {
	if len(entries) == 0 {
		return nil, ErrNoProvider
	}

	internal := make([]chainEntry, len(entries))
	for i, e := range entries {
		if e.Provider == nil {
			return nil, fmt.Errorf("%w: entry %q has nil provider", ErrNoProvider, e.Name)
		}
		internal[i] = chainEntry{ChainEntry: e, health: newHealthTracker(e.Health)}
	}

	c := &Chain{entries: internal}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(nopHandler{})
	}

	for i := range c.entries {
		e := &c.entries[i]
		logger := c.logger.With("provider", e.Name)
		e.health.onStateChange = func(from, to HealthState) {
			_, failures, backoff := e.health.snapshot()
			switch to {
			case StateCooldown:
				logger.Warn("provider: entered cooldown", "backoff", backoff, "failures", failures)
			case StateDead:
				logger.Error("provider: marked dead", "failures", failures)
			case StateHealthy:
				logger.Info("provider: revived", "previous_state", from.String())
			}
		}
	}

	return c, nil
}

// Start launches the background health probe loop.
func (c *Chain) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	go c.probeLoop(ctx, c.probeInterval())
}

// Stop cancels background health probes.
func (c *Chain) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// ModelName returns the model of the first available entry.
func (c *Chain) ModelName() string {
	for i := range c.entries {
		if c.entries[i].health.available() {
			return c.entries[i].Provider.ModelName()
		}
	}
	return c.entries[0].Provider.ModelName()
}

// Complete sends the request to the first available provider, failing
// over to the next one on retryable errors.
func (c *Chain) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var resp CompletionResponse
	err := c.try(ctx, "complete", func(e *chainEntry) error {
		var err error
		resp, err = e.Provider.Complete(ctx, req)
		if err == nil {
			e.health.success()
		}
		return err
	})
	return resp, err
}

// Stream opens a stream on the first available provider, failing over on
// retryable connection errors. The health verdict for the chosen provider
// is deferred until the stream ends.
func (c *Chain) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	var out <-chan StreamChunk
	err := c.try(ctx, "stream", func(e *chainEntry) error {
		ch, err := e.Provider.Stream(ctx, req)
		if err == nil {
			out = c.watchStream(ctx, ch, e)
		}
		return err
	})
	return out, err
}

// GenerateImage sends the request to the first available provider that
// supports image generation.
func (c *Chain) GenerateImage(ctx context.Context, req ImageRequest) (ImageResponse, error) {
	supported := false
	for i := range c.entries {
		if _, ok := c.entries[i].Provider.(ImageGenerator); ok {
			supported = true
			break
		}
	}
	if !supported {
		return ImageResponse{}, ErrImageUnsupported
	}

	var resp ImageResponse
	err := c.try(ctx, "image", func(e *chainEntry) error {
		gen, ok := e.Provider.(ImageGenerator)
		if !ok {
			return errSkip
		}
		var err error
		resp, err = gen.GenerateImage(ctx, req)
		if err == nil {
			e.health.success()
		}
		return err
	})
	return resp, err
}

// HealthCheck reports an error when no provider is currently available.
func (c *Chain) HealthCheck(context.Context) error {
	for i := range c.entries {
		if c.entries[i].health.available() {
			return nil
		}
	}
	return fmt.Errorf("%w: no provider available", ErrProviderDown)
}

// Status returns the health of every entry, in chain order.
func (c *Chain) Status() []HealthStatus {
	out := make([]HealthStatus, len(c.entries))
	for i := range c.entries {
		e := &c.entries[i]
		state, failures, backoff := e.health.snapshot()
		st := HealthStatus{
			Name:     e.Name,
			Model:    e.Provider.ModelName(),
			State:    state,
			Failures: failures,
		}
		if state == StateCooldown {
			st.Backoff = backoff.String()
		}
		out[i] = st
	}
	return out
}

// errSkip tells try to move on without touching the entry's health.
var errSkip = errors.New("provider: skipped")

// try walks the entries in order, calling fn on each available one until
// it succeeds or returns a non-retryable error. Rate limits fail over but
// leave the entry's health untouched, so a rate-limited chain keeps
// reporting ErrRateLimit instead of going unavailable.
func (c *Chain) try(ctx context.Context, op string, fn func(e *chainEntry) error) error {
	var lastErr error
	for i := range c.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := &c.entries[i]
		if !e.health.available() {
			continue
		}

		start := time.Now()
		err := fn(e)
		if errors.Is(err, errSkip) {
			continue
		}
		if c.observer != nil {
			c.observer.ProviderCall(e.Name, op, time.Since(start), err)
		}
		if err == nil {
			return nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return err
		}

		// A rate limit is the provider asking to slow down, not a fault.
		if !IsRateLimit(err) {
			e.health.failure()
		}
		c.logger.Warn("provider: call failed, failing over",
			"provider", e.Name,
			"op", op,
			"error", err,
		)
	}

	if lastErr != nil {
		c.logger.Error("provider: all providers exhausted", "op", op, "last_error", lastErr)
		return fmt.Errorf("%w: last error: %w", ErrAllProviders, lastErr)
	}
	c.logger.Error("provider: all providers exhausted", "op", op)
	return fmt.Errorf("%w: all candidates unavailable", ErrAllProviders)
}

// watchStream relays a provider stream and records the health verdict
// when it ends. A mid-stream outage counts as a failure and a clean end as
// a success. The relay stops when ctx is done.
func (c *Chain) watchStream(ctx context.Context, src <-chan StreamChunk, e *chainEntry) <-chan StreamChunk {
	out := make(chan StreamChunk, cap(src))
	go func() {
		defer close(out)
		failed := false
		for chunk := range src {
			if chunk.Err != nil && IsRetryable(chunk.Err) && !IsRateLimit(chunk.Err) && !failed {
				failed = true
				e.health.failure()
				c.logger.Warn("provider: mid-stream error degraded health",
					"provider", e.Name,
					"error", chunk.Err,
				)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if !failed {
			e.health.success()
		}
	}()
	return out
}

// probeInterval returns the shortest check interval across entries.
func (c *Chain) probeInterval() time.Duration {
	interval := c.entries[0].health.cfg.CheckInterval
	for i := 1; i < len(c.entries); i++ {
		interval = min(interval, c.entries[i].health.cfg.CheckInterval)
	}
	return interval
}

// probeLoop runs periodic health probes until ctx is cancelled.
func (c *Chain) probeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

// probe health-checks every entry that is dead or whose cooldown expired.
func (c *Chain) probe(ctx context.Context) {
	for i := range c.entries {
		e := &c.entries[i]
		if !e.health.needsProbe() {
			continue
		}
		checker, ok := e.Provider.(HealthChecker)
		if !ok {
			continue
		}
		if err := checker.HealthCheck(ctx); err == nil {
			e.health.success()
		}
	}
}

// Interface guards.
var (
	_ Provider       = (*Chain)(nil)
	_ ImageGenerator = (*Chain)(nil)
	_ HealthChecker  = (*Chain)(nil)
)
