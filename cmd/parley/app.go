package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/parley/internal/assistant"
	"github.com/flemzord/parley/internal/config"
	"github.com/flemzord/parley/internal/conversation"
	"github.com/flemzord/parley/internal/core"
	"github.com/flemzord/parley/internal/cron"
	"github.com/flemzord/parley/internal/gateway"
	"github.com/flemzord/parley/internal/provider"
	"github.com/flemzord/parley/internal/telemetry"
	"github.com/flemzord/parley/internal/usage"
	"github.com/flemzord/parley/modules/channel/telegram"
	"github.com/flemzord/parley/modules/provider/openaicompat"
)

// frontends selects which network channels buildRuntime wires. The chat
// and mcp commands run without them.
type frontends struct {
	http     bool
	telegram bool
}

// runtime is the assembled service.
type runtime struct {
	app       *core.App
	store     *conversation.Store
	chain     *provider.Chain
	assistant *assistant.Assistant
	metrics   *telemetry.Metrics
	ledger    *usage.Ledger
	tracing   *telemetry.Tracing
}

// buildRuntime wires every component described by cfg into a core.App.
// Nothing is started; resources opened here are released by App.Stop once
// the app has started, or before returning on error.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, fe frontends) (_ *runtime, err error) {
	rt := &runtime{app: core.NewApp(core.WithLogger(logger))}

	rt.tracing, err = telemetry.NewTracing(ctx, cfg.Tracing, version)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err != nil {
			_ = rt.tracing.Shutdown(context.WithoutCancel(ctx))
			if rt.ledger != nil {
				_ = rt.ledger.Close()
			}
		}
	}()

	if cfg.Metrics.Enabled {
		rt.metrics = telemetry.NewMetrics(cfg.Metrics)
	}

	if cfg.Usage.Enabled {
		rt.ledger, err = usage.Open(ctx, cfg.Usage, logger)
		if err != nil {
			return nil, err
		}
	}

	rt.chain, err = buildChain(cfg.Providers, logger, rt.metrics)
	if err != nil {
		return nil, err
	}

	counter, err := conversation.NewCounter(cfg.Conversation.Counter, cfg.Conversation.CharsPerToken)
	if err != nil {
		return nil, err
	}
	storeCfg := conversation.Config{
		MaxPromptBudget: cfg.Conversation.MaxPromptBudget,
		Preamble:        cfg.Conversation.CharacterDesc,
		Counter:         counter,
		Shards:          cfg.Conversation.Shards,
	}
	if rt.metrics != nil {
		storeCfg.Observer = rt.metrics
	}
	rt.store = conversation.NewStore(storeCfg)

	opts := []assistant.Option{
		assistant.WithLogger(logger),
		assistant.WithTracer(rt.tracing.Tracer()),
	}
	if rt.metrics != nil {
		opts = append(opts, assistant.WithObserver(rt.metrics))
	}
	if rt.ledger != nil {
		opts = append(opts, assistant.WithUsageRecorder(rt.ledger))
	}
	rt.assistant = assistant.New(rt.store, rt.chain, cfg.Assistant, opts...)

	var tg *telegram.Telegram
	if fe.telegram && cfg.Telegram.Enabled {
		tg = telegram.New(cfg.Telegram, rt.assistant, logger)
	}

	var gw *gateway.Gateway
	if fe.http && cfg.HTTP.Enabled {
		gwOpts := []gateway.Option{
			gateway.WithLogger(logger),
			gateway.WithHealth(rt.chain),
		}
		if rt.ledger != nil {
			gwOpts = append(gwOpts, gateway.WithUsage(rt.ledger))
		}
		if rt.metrics != nil {
			gwOpts = append(gwOpts, gateway.WithMetrics(cfg.Metrics.Path, rt.metrics.Handler()))
		}
		if tg != nil && cfg.Telegram.Mode == telegram.ModeWebhook {
			gwOpts = append(gwOpts, gateway.WithWebhook(tg.WebhookPath(), tg.WebhookHandler()))
		}
		gw = gateway.New(cfg.HTTP, rt.assistant, gwOpts...)
	}

	sched, err := buildScheduler(cfg, logger, rt)
	if err != nil {
		return nil, err
	}

	// Start order: sinks first, front ends last. Stop runs in reverse.
	components := []component{
		{"tracing", core.StartStopFuncs{OnStop: rt.tracing.Shutdown}},
		{"providers", core.StartStopFuncs{
			OnStart: func(ctx context.Context) error {
				rt.chain.Start(context.WithoutCancel(ctx))
				return nil
			},
			OnStop: func(context.Context) error {
				rt.chain.Stop()
				return nil
			},
		}},
	}
	if rt.ledger != nil {
		components = append(components, component{"usage", core.StopFunc(rt.ledger.Close)})
	}
	if sched != nil {
		components = append(components, component{"cron", core.StartStopFuncs{
			OnStart: func(context.Context) error { return sched.Start() },
			OnStop:  sched.Stop,
		}})
	}
	if tg != nil {
		components = append(components, component{"telegram", tg})
	}
	if gw != nil {
		components = append(components, component{"gateway", gw})
	}

	for _, c := range components {
		if err := rt.app.Add(c.name, c.c); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// component is a named entry for core.App.Add.
type component struct {
	name string
	c    any
}

// buildChain creates one OpenAI-compatible client per configured provider
// and chains them in order.
func buildChain(providers []config.ProviderConfig, logger *slog.Logger, metrics *telemetry.Metrics) (*provider.Chain, error) {
	if len(providers) == 0 {
		return nil, provider.ErrNoProvider
	}

	entries := make([]provider.ChainEntry, 0, len(providers))
	for _, p := range providers {
		client, err := openaicompat.New(p.Client, logger.With("provider", p.Name))
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		entries = append(entries, provider.ChainEntry{
			Name:     p.Name,
			Provider: client,
			Health:   p.Health,
		})
	}

	opts := []provider.ChainOption{provider.WithLogger(logger)}
	if metrics != nil {
		opts = append(opts, provider.WithCallObserver(metrics))
	}
	return provider.NewChain(entries, opts...)
}

// buildScheduler registers the housekeeping jobs that apply to cfg.
// It returns nil when there is nothing to schedule.
func buildScheduler(cfg *config.Config, logger *slog.Logger, rt *runtime) (*cron.Scheduler, error) {
	var jobs []cron.Job
	if rt.metrics != nil {
		jobs = append(jobs, &cron.SessionGaugeJob{
			Store:        rt.store,
			Gauge:        rt.metrics,
			ScheduleExpr: cfg.Cron.SessionGauge,
		})
	}
	if rt.ledger != nil && cfg.Usage.Retention > 0 {
		jobs = append(jobs, &cron.UsagePurgeJob{
			Ledger:       rt.ledger,
			Retention:    cfg.Usage.Retention,
			Logger:       logger,
			ScheduleExpr: cfg.Usage.PurgeSchedule,
		})
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	sched := cron.NewScheduler(logger)
	var errs []error
	for _, j := range jobs {
		errs = append(errs, sched.RegisterJob(j))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return sched, nil
}
