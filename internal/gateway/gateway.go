// Package gateway exposes the assistant over HTTP: JSON chat endpoints, a
// server-sent events stream, a WebSocket channel, session administration,
// health and metrics. It binds to loopback by default.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/flemzord/parley/internal/assistant"
	"github.com/flemzord/parley/internal/provider"
	"github.com/flemzord/parley/internal/security"
	"github.com/flemzord/parley/internal/usage"
)

// HealthReporter exposes provider health. *provider.Chain implements it.
type HealthReporter interface {
	Status() []provider.HealthStatus
	HealthCheck(ctx context.Context) error
}

// UsageReader returns per-user token totals. *usage.Ledger implements it.
type UsageReader interface {
	Totals(ctx context.Context, userID string) (usage.Totals, error)
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithHealth enables provider details on /health and /status.
func WithHealth(h HealthReporter) Option {
	return func(g *Gateway) { g.health = h }
}

// WithUsage mounts GET /api/usage/{user}.
func WithUsage(u UsageReader) Option {
	return func(g *Gateway) { g.usage = u }
}

// WithMetrics mounts a metrics handler at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(g *Gateway) {
		g.metricsPath = path
		g.metrics = h
	}
}

// WithWebhook mounts a public POST handler, such as a bot webhook that
// authenticates its own requests.
func WithWebhook(path string, h http.Handler) Option {
	return func(g *Gateway) {
		g.webhooks = append(g.webhooks, webhook{path: path, handler: h})
	}
}

type webhook struct {
	path    string
	handler http.Handler
}

// Gateway is the HTTP front end of the assistant.
type Gateway struct {
	config      Config
	assistant   *assistant.Assistant
	health      HealthReporter
	usage       UsageReader
	metrics     http.Handler
	metricsPath string
	webhooks    []webhook
	limiter     *security.RateLimiter
	logger      *slog.Logger
	handler     http.Handler
	startedAt   time.Time

	mu     sync.Mutex
	server *http.Server
}

// New creates a Gateway serving asst.
func New(cfg Config, asst *assistant.Assistant, opts ...Option) *Gateway {
	cfg.Defaults()
	g := &Gateway{
		config:    cfg,
		assistant: asst,
		limiter:   security.NewRateLimiter(cfg.RateLimit),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	g.handler = g.buildRouter()
	return g
}

// Handler returns the gateway's routes, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	g.server = &http.Server{
		Handler:      g.handler,
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}
	server := g.server

	go func() {
		g.logger.Info("gateway: listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway: serve error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully within the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	server := g.server
	g.server = nil
	g.mu.Unlock()

	if server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway: shutting down")
	return server.Shutdown(shutdownCtx)
}
