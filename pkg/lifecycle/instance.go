package lifecycle

import (
	"context"
	"time"

	"github.com/cuemby/switchyard/pkg/types"
)

// liveInstance is one constructed object bound to a plug point.
type liveInstance struct {
	candidate *types.Candidate
	object    interface{}
	state     types.InstanceState
	boundAt   time.Time
	seq       uint64 // bind order, for reverse-order shutdown

	// last known health verdict
	healthy   bool
	healthErr error
	checkedAt time.Time
}

// HealthStatus is the externally visible health verdict for one instance.
type HealthStatus struct {
	Ref       types.Ref
	Provider  string
	State     types.InstanceState
	Healthy   bool
	Err       error
	CheckedAt time.Time
}

// keyLock is a context-aware mutex: a one-slot semaphore so swap can
// try-acquire while activate waits.
type keyLock chan struct{}

func newKeyLock() keyLock {
	return make(keyLock, 1)
}

// acquire blocks until the lock is held or ctx is done.
func (l keyLock) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryAcquire takes the lock only if it is free.
func (l keyLock) tryAcquire() bool {
	select {
	case l <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l keyLock) release() {
	<-l
}

// runHook invokes fn under a bounded timeout derived from parent.
func runHook(parent context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
