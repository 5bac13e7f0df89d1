package lifecycle

import "context"

// Instances constructed by factories are opaque to the core. Lifecycle hooks
// are optional: an instance advertises them by implementing the interfaces
// below. A missing hook is a no-op returning success, except health, which
// defaults to ready.

// Initializer is run once after construction, before the instance is bound.
type Initializer interface {
	Init(ctx context.Context) error
}

// HealthChecker produces a readiness verdict. A false verdict during a swap
// aborts the swap; during normal operation it is reported, not acted on.
type HealthChecker interface {
	Healthy(ctx context.Context) (bool, error)
}

// Cleaner releases the instance's resources. Called on explicit cleanup, on
// the old instance after a committed swap, and on the new instance after a
// rolled-back swap.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Pauser suspends and resumes the instance's work without destroying it.
type Pauser interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Drainer stops the instance accepting new work while letting in-flight work
// finish.
type Drainer interface {
	Drain(ctx context.Context) error
}

func initInstance(ctx context.Context, obj interface{}) error {
	if i, ok := obj.(Initializer); ok {
		return i.Init(ctx)
	}
	return nil
}

func healthOf(ctx context.Context, obj interface{}) (bool, error) {
	if h, ok := obj.(HealthChecker); ok {
		return h.Healthy(ctx)
	}
	return true, nil
}

func cleanupInstance(ctx context.Context, obj interface{}) error {
	if c, ok := obj.(Cleaner); ok {
		return c.Cleanup(ctx)
	}
	return nil
}
