// Package core runs the long-lived components of the process: it starts
// them in order, rolls back on failure and stops them in reverse order on
// shutdown.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// DefaultShutdownTimeout bounds the whole shutdown sequence.
const DefaultShutdownTimeout = 30 * time.Second

// ErrNotComponent is returned by Add for values that are neither a Starter
// nor a Stopper.
var ErrNotComponent = errors.New("core: component implements neither Starter nor Stopper")

// App manages the lifecycle of a set of components.
type App struct {
	components      []component
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

type component struct {
	name    string
	value   any
	started bool
}

// Option configures optional App behavior.
type Option func(*App)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithShutdownTimeout overrides DefaultShutdownTimeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

// NewApp creates an empty App.
func NewApp(opts ...Option) *App {
	a := &App{shutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	return a
}

// Add registers a component under name. Components start in the order
// they were added.
func (a *App) Add(name string, c any) error {
	_, isStarter := c.(Starter)
	_, isStopper := c.(Stopper)
	if !isStarter && !isStopper {
		return fmt.Errorf("%w: %s", ErrNotComponent, name)
	}
	a.components = append(a.components, component{name: name, value: c})
	return nil
}

// Start starts every component in order. A component that only
// implements Stopper counts as started. If any Start fails, the components
// already started are stopped in reverse order.
func (a *App) Start(ctx context.Context) error {
	for i := range a.components {
		c := &a.components[i]
		if s, ok := c.value.(Starter); ok {
			a.logger.Info("core: starting component", "component", c.name)
			if err := s.Start(ctx); err != nil {
				a.logger.Error("core: component start failed", "component", c.name, "error", err)
				a.stopFrom(i - 1)
				return fmt.Errorf("core: starting %s: %w", c.name, err)
			}
		}
		c.started = true
	}
	a.logger.Info("core: all components started", "count", len(a.components))
	return nil
}

// Stop stops all started components in reverse order within the shutdown
// timeout. Errors are joined.
func (a *App) Stop() error {
	return a.stopFrom(len(a.components) - 1)
}

func (a *App) stopFrom(fromIndex int) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := fromIndex; i >= 0; i-- {
		c := &a.components[i]
		if !c.started {
			continue
		}
		c.started = false
		s, ok := c.value.(Stopper)
		if !ok {
			continue
		}
		a.logger.Info("core: stopping component", "component", c.name)
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("core: component stop error", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("core: stopping %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// Run starts all components and blocks until ctx is cancelled or SIGINT or
// SIGTERM is received, then stops them.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("core: shutdown requested", "cause", context.Cause(ctx))

	err := a.Stop()
	a.logger.Info("core: shutdown complete")
	return err
}
