package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/events"
	"github.com/cuemby/switchyard/pkg/metrics"
	"github.com/cuemby/switchyard/pkg/registry"
	"github.com/cuemby/switchyard/pkg/types"
)

// SwapOptions modify one swap.
type SwapOptions struct {
	// Provider pins the re-resolution to one provider.
	Provider string

	// Force swaps even when the resolution is unchanged and even when the
	// new instance's health check fails.
	Force bool
}

// Swap atomically replaces the live instance for a plug point with one built
// from the newly active candidate.
//
// The new instance is constructed and health-checked before the old one is
// touched; the active pointer flips only after the new instance proves
// ready, and the old instance is cleaned up only after the flip. On any
// failure before the flip the old instance remains bound and the new one is
// destroyed, leaving operator-visible state exactly as before.
func (m *Manager) Swap(ctx context.Context, domain types.Domain, key string, opts SwapOptions) (interface{}, error) {
	ref := types.Ref{Domain: domain, Key: key}
	lock := m.lockFor(ref)
	if !lock.tryAcquire() {
		metrics.SwapsTotal.WithLabelValues(string(domain), "conflict").Inc()
		return nil, errdefs.New(errdefs.ErrSwapInProgress, domain, key, nil)
	}
	defer lock.release()

	start := time.Now()
	defer func() {
		metrics.SwapDuration.WithLabelValues(string(domain)).Observe(time.Since(start).Seconds())
	}()

	cand := m.registry.ResolveWith(domain, key, registry.ResolveOptions{Provider: opts.Provider})
	if cand == nil {
		return m.swapFailed(nil, domain, key, errdefs.New(errdefs.ErrLifecycle, domain, key,
			fmt.Errorf("no eligible candidate")))
	}

	old := m.boundInstance(ref)
	if old != nil && old.candidate.Identity() == cand.Identity() && !opts.Force {
		metrics.SwapsTotal.WithLabelValues(string(domain), "noop").Inc()
		return old.object, nil
	}

	// Build the replacement before touching the old instance.
	inst, err := m.construct(ctx, cand)
	if err != nil {
		return m.swapFailed(cand, domain, key, err)
	}

	healthy, herr := m.probeNew(ctx, inst)
	if !healthy || herr != nil {
		if !opts.Force {
			m.destroyNew(inst)
			if herr == nil {
				herr = fmt.Errorf("health check returned not ready")
			}
			return m.swapFailed(cand, domain, key,
				errdefs.New(errdefs.ErrSwapHealthFailed, domain, key, herr).WithProvider(cand.Provider))
		}
		m.logger.Warn().
			Str("domain", string(domain)).
			Str("key", key).
			Str("provider", cand.Provider).
			Msg("forcing swap despite failed health check")
	}

	// A cancellation that lands before the flip rolls back; after the flip
	// the swap has committed and cancellation is a no-op.
	if err := ctx.Err(); err != nil {
		m.destroyNew(inst)
		return m.swapFailed(cand, domain, key, err)
	}

	m.emit(events.EventPreSwap, cand, "swap starting", nil)

	if old != nil {
		m.unbind(ref)
	}
	m.bind(ref, inst)

	if old != nil {
		// Detached timeout: the committed swap must not be undone by the
		// caller cancelling during old-instance teardown.
		m.setState(old, types.StateCleanup)
		err := runHook(context.Background(), m.timeouts.Cleanup, func(c context.Context) error {
			return cleanupInstance(c, old.object)
		})
		if err != nil {
			m.logger.Warn().Err(err).
				Str("domain", string(domain)).
				Str("key", key).
				Str("provider", old.candidate.Provider).
				Msg("old instance cleanup failed after swap")
		}
	}

	m.emit(events.EventPostSwap, cand, "swap committed", nil)
	m.emit(events.EventSwapComplete, cand, "swap complete", nil)
	metrics.SwapsTotal.WithLabelValues(string(domain), "committed").Inc()
	return inst.object, nil
}

// probeNew runs the new instance's health hook under the health timeout.
func (m *Manager) probeNew(ctx context.Context, inst *liveInstance) (bool, error) {
	var healthy bool
	err := runHook(ctx, m.timeouts.Health, func(c context.Context) error {
		var herr error
		healthy, herr = healthOf(c, inst.object)
		return herr
	})
	return healthy, err
}

// destroyNew tears down a never-bound instance during rollback. Best effort:
// the instance was never visible, so failures only get logged.
func (m *Manager) destroyNew(inst *liveInstance) {
	inst.state = types.StateCleanup
	err := runHook(context.Background(), m.timeouts.Cleanup, func(c context.Context) error {
		return cleanupInstance(c, inst.object)
	})
	if err != nil {
		m.logger.Warn().Err(err).
			Str("provider", inst.candidate.Provider).
			Msg("rollback cleanup of new instance failed")
	}
}

func (m *Manager) swapFailed(cand *types.Candidate, domain types.Domain, key string, err error) (interface{}, error) {
	metrics.SwapsTotal.WithLabelValues(string(domain), "rolled_back").Inc()
	if cand == nil {
		cand = &types.Candidate{Domain: domain, Key: key}
	}
	m.emit(events.EventSwapFailed, cand, "swap failed", map[string]string{
		"error": err.Error(),
	})
	return nil, err
}

func (m *Manager) emit(t events.EventType, cand *types.Candidate, msg string, fields map[string]string) {
	if m.broker != nil {
		m.broker.Emit(t, cand, msg, fields)
	}
}
