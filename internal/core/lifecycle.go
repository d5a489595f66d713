package core

import "context"

// Starter is implemented by components that need to start background work
// (goroutines, listeners, connections). The context bounds startup only.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by components that need to clean up resources.
// Called during shutdown in reverse order of Start.
type Stopper interface {
	Stop(ctx context.Context) error
}

// StopFunc adapts a cleanup function without a context to a Stopper.
type StopFunc func() error

// Stop implements Stopper.
func (f StopFunc) Stop(context.Context) error { return f() }

// StartStopFuncs adapts a pair of functions to a Starter and Stopper.
// Either may be nil.
type StartStopFuncs struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// Start implements Starter.
func (f StartStopFuncs) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

// Stop implements Stopper.
func (f StartStopFuncs) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}
