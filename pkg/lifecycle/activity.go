package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/types"
)

// Pause suspends the live instance (if it implements Pauser) and records the
// paused state durably. Pausing a plug point with no live instance still
// records the state: the orchestrator defers swaps for paused keys either
// way.
func (m *Manager) Pause(ctx context.Context, domain types.Domain, key, note string) error {
	ref := types.Ref{Domain: domain, Key: key}
	lock := m.lockFor(ref)
	if err := lock.acquire(ctx); err != nil {
		return err
	}
	defer lock.release()

	if inst := m.boundInstance(ref); inst != nil {
		if p, ok := inst.object.(Pauser); ok {
			if err := runHook(ctx, m.timeouts.Cleanup, p.Pause); err != nil {
				m.lifecycleError(inst.candidate, "pause", err)
				return errdefs.New(errdefs.ErrLifecycle, domain, key,
					fmt.Errorf("pause: %w", err)).WithProvider(inst.candidate.Provider)
			}
		}
		m.setState(inst, types.StatePaused)
	}

	return m.updateActivity(ref, func(rec *types.ActivityRecord) {
		rec.Paused = true
		rec.Note = note
	})
}

// Resume clears the paused state and resumes the instance if it implements
// Pauser. When the record ends up idle it is removed from the store, so
// pause followed by resume returns the record to absent.
func (m *Manager) Resume(ctx context.Context, domain types.Domain, key string) error {
	ref := types.Ref{Domain: domain, Key: key}
	lock := m.lockFor(ref)
	if err := lock.acquire(ctx); err != nil {
		return err
	}
	defer lock.release()

	if inst := m.boundInstance(ref); inst != nil {
		if p, ok := inst.object.(Pauser); ok {
			if err := runHook(ctx, m.timeouts.Cleanup, p.Resume); err != nil {
				m.lifecycleError(inst.candidate, "resume", err)
				return errdefs.New(errdefs.ErrLifecycle, domain, key,
					fmt.Errorf("resume: %w", err)).WithProvider(inst.candidate.Provider)
			}
		}
		m.setState(inst, types.StateReady)
	}

	return m.updateActivity(ref, func(rec *types.ActivityRecord) {
		rec.Paused = false
		rec.Note = ""
	})
}

// Drain asks the live instance to stop accepting new work and records the
// draining state durably.
func (m *Manager) Drain(ctx context.Context, domain types.Domain, key, note string) error {
	ref := types.Ref{Domain: domain, Key: key}
	lock := m.lockFor(ref)
	if err := lock.acquire(ctx); err != nil {
		return err
	}
	defer lock.release()

	if inst := m.boundInstance(ref); inst != nil {
		if d, ok := inst.object.(Drainer); ok {
			if err := runHook(ctx, m.timeouts.Cleanup, d.Drain); err != nil {
				m.lifecycleError(inst.candidate, "drain", err)
				return errdefs.New(errdefs.ErrLifecycle, domain, key,
					fmt.Errorf("drain: %w", err)).WithProvider(inst.candidate.Provider)
			}
		}
		m.setState(inst, types.StateDraining)
	}

	return m.updateActivity(ref, func(rec *types.ActivityRecord) {
		rec.Draining = true
		rec.Note = note
	})
}

// Undrain clears the draining state.
func (m *Manager) Undrain(ctx context.Context, domain types.Domain, key string) error {
	ref := types.Ref{Domain: domain, Key: key}
	lock := m.lockFor(ref)
	if err := lock.acquire(ctx); err != nil {
		return err
	}
	defer lock.release()

	if inst := m.boundInstance(ref); inst != nil {
		m.mu.Lock()
		if inst.state == types.StateDraining {
			inst.state = types.StateReady
		}
		m.mu.Unlock()
	}

	return m.updateActivity(ref, func(rec *types.ActivityRecord) {
		rec.Draining = false
		rec.Note = ""
	})
}

// Activity returns the activity record for a plug point, or nil when none is
// recorded.
func (m *Manager) Activity(domain types.Domain, key string) *types.ActivityRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec := m.activity[types.Ref{Domain: domain, Key: key}]
	if rec == nil {
		return nil
	}
	cp := *rec
	return &cp
}

// Blocked reports whether swaps for a plug point must be deferred because it
// is paused or draining.
func (m *Manager) Blocked(ref types.Ref) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec := m.activity[ref]
	return rec != nil && (rec.Paused || rec.Draining)
}

// updateActivity mutates the in-memory record and writes it through to the
// durable store. Idle records are deleted rather than stored.
func (m *Manager) updateActivity(ref types.Ref, mutate func(*types.ActivityRecord)) error {
	m.mu.Lock()
	rec := m.activity[ref]
	if rec == nil {
		rec = &types.ActivityRecord{Domain: ref.Domain, Key: ref.Key}
	}
	mutate(rec)
	rec.UpdatedAt = time.Now().UTC()

	idle := rec.Idle()
	if idle {
		delete(m.activity, ref)
	} else {
		m.activity[ref] = rec
	}
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if idle {
		if err := m.store.DeleteActivity(ref.Domain, ref.Key); err != nil {
			return fmt.Errorf("failed to clear activity record: %w", err)
		}
		return nil
	}
	if err := m.store.PutActivity(rec); err != nil {
		return fmt.Errorf("failed to persist activity record: %w", err)
	}
	return nil
}
