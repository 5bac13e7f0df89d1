package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/events"
	"github.com/cuemby/switchyard/pkg/log"
	"github.com/cuemby/switchyard/pkg/metrics"
	"github.com/cuemby/switchyard/pkg/registry"
	"github.com/cuemby/switchyard/pkg/security"
	"github.com/cuemby/switchyard/pkg/storage"
	"github.com/cuemby/switchyard/pkg/types"
)

// Timeouts bounds each lifecycle step independently. A timeout is a failure
// of that step and triggers rollback for swaps.
type Timeouts struct {
	Init    time.Duration
	Health  time.Duration
	Cleanup time.Duration
}

// DefaultTimeouts returns the standard step bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Init:    30 * time.Second,
		Health:  10 * time.Second,
		Cleanup: 10 * time.Second,
	}
}

// Manager owns every live instance: it converts resolved candidates into
// running instances, tracks their health, and performs atomic swaps.
type Manager struct {
	registry  *registry.Registry
	factories *registry.FactoryTable
	policy    *security.FactoryPolicy
	store     storage.Store
	broker    *events.Broker
	timeouts  Timeouts
	logger    zerolog.Logger

	mu        sync.RWMutex
	instances map[types.Ref]*liveInstance
	locks     map[types.Ref]keyLock
	activity  map[types.Ref]*types.ActivityRecord
	domainUp  map[types.Domain]bool
	bindSeq   uint64
}

// Options configures a Manager.
type Options struct {
	Registry  *registry.Registry
	Factories *registry.FactoryTable
	Policy    *security.FactoryPolicy
	Store     storage.Store
	Broker    *events.Broker
	Timeouts  Timeouts
}

// NewManager creates a lifecycle manager and reloads persisted activity
// records so pause/drain survive process restarts.
func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("lifecycle manager requires a registry")
	}
	if opts.Factories == nil {
		opts.Factories = registry.DefaultTable()
	}
	if opts.Policy == nil {
		opts.Policy = security.NewFactoryPolicy(nil, false)
	}
	if opts.Timeouts == (Timeouts{}) {
		opts.Timeouts = DefaultTimeouts()
	}

	m := &Manager{
		registry:  opts.Registry,
		factories: opts.Factories,
		policy:    opts.Policy,
		store:     opts.Store,
		broker:    opts.Broker,
		timeouts:  opts.Timeouts,
		logger:    log.WithComponent("lifecycle"),
		instances: make(map[types.Ref]*liveInstance),
		locks:     make(map[types.Ref]keyLock),
		activity:  make(map[types.Ref]*types.ActivityRecord),
		domainUp:  make(map[types.Domain]bool),
	}

	if m.store != nil {
		records, err := m.store.ListActivities()
		if err != nil {
			return nil, fmt.Errorf("failed to load activity records: %w", err)
		}
		for _, rec := range records {
			m.activity[types.Ref{Domain: rec.Domain, Key: rec.Key}] = rec
		}
	}

	return m, nil
}

// lockFor returns the per-key mutex, creating it on first use.
func (m *Manager) lockFor(ref types.Ref) keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[ref]
	if !ok {
		l = newKeyLock()
		m.locks[ref] = l
	}
	return l
}

// Activate resolves, constructs, and initializes the active candidate for a
// plug point, returning the live instance. If an instance is already bound
// it is returned as is; concurrent callers serialize on the per-key mutex so
// at most one init runs per key.
func (m *Manager) Activate(ctx context.Context, domain types.Domain, key string) (interface{}, error) {
	ref := types.Ref{Domain: domain, Key: key}
	lock := m.lockFor(ref)
	if err := lock.acquire(ctx); err != nil {
		return nil, err
	}
	defer lock.release()

	if inst := m.boundInstance(ref); inst != nil {
		return inst.object, nil
	}

	cand := m.registry.Resolve(domain, key)
	if cand == nil {
		return nil, errdefs.New(errdefs.ErrLifecycle, domain, key, fmt.Errorf("no eligible candidate"))
	}

	inst, err := m.construct(ctx, cand)
	if err != nil {
		return nil, err
	}

	m.bind(ref, inst)
	return inst.object, nil
}

// Instance returns the bound object for a plug point, or nil.
func (m *Manager) Instance(domain types.Domain, key string) interface{} {
	if inst := m.boundInstance(types.Ref{Domain: domain, Key: key}); inst != nil {
		return inst.object
	}
	return nil
}

// ActiveCandidate returns the candidate backing the bound instance, or nil.
func (m *Manager) ActiveCandidate(domain types.Domain, key string) *types.Candidate {
	if inst := m.boundInstance(types.Ref{Domain: domain, Key: key}); inst != nil {
		return inst.candidate
	}
	return nil
}

// construct builds and initializes an instance from a candidate. The factory
// reference is re-checked against the security policy at the point of code
// resolution, not just at registration.
func (m *Manager) construct(ctx context.Context, cand *types.Candidate) (*liveInstance, error) {
	if cand.Factory == "" {
		return nil, errdefs.New(errdefs.ErrLifecycle, cand.Domain, cand.Key,
			fmt.Errorf("candidate has no factory")).WithProvider(cand.Provider)
	}
	if err := m.policy.CheckFactory(cand.Factory); err != nil {
		return nil, err
	}
	factory, ok := m.factories.Lookup(cand.Factory)
	if !ok {
		return nil, errdefs.New(errdefs.ErrLifecycle, cand.Domain, cand.Key,
			fmt.Errorf("factory %q is not installed", cand.Factory)).WithProvider(cand.Provider)
	}

	obj, err := factory(ctx, cand)
	if err != nil {
		m.lifecycleError(cand, "construct", err)
		return nil, errdefs.New(errdefs.ErrLifecycle, cand.Domain, cand.Key, err).WithProvider(cand.Provider)
	}

	inst := &liveInstance{
		candidate: cand,
		object:    obj,
		state:     types.StateInitializing,
	}

	if err := runHook(ctx, m.timeouts.Init, func(c context.Context) error {
		return initInstance(c, obj)
	}); err != nil {
		m.lifecycleError(cand, "init", err)
		return nil, errdefs.New(errdefs.ErrLifecycle, cand.Domain, cand.Key,
			fmt.Errorf("init: %w", err)).WithProvider(cand.Provider)
	}

	inst.state = types.StateReady
	inst.healthy = true
	return inst, nil
}

// bind installs the instance as the live one for ref and emits domain-ready
// when this is the domain's first ready instance.
func (m *Manager) bind(ref types.Ref, inst *liveInstance) {
	m.mu.Lock()
	m.bindSeq++
	inst.seq = m.bindSeq
	inst.boundAt = time.Now()
	m.instances[ref] = inst
	firstInDomain := !m.domainUp[ref.Domain]
	m.domainUp[ref.Domain] = true
	m.mu.Unlock()

	metrics.InstancesReady.WithLabelValues(string(ref.Domain)).Inc()
	m.logger.Info().
		Str("domain", string(ref.Domain)).
		Str("key", ref.Key).
		Str("provider", inst.candidate.Provider).
		Msg("instance ready")

	if firstInDomain && m.broker != nil {
		m.broker.Emit(events.EventDomainReady, inst.candidate, "first instance ready in domain", nil)
	}
}

func (m *Manager) unbind(ref types.Ref) *liveInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.instances[ref]
	if inst != nil {
		delete(m.instances, ref)
		metrics.InstancesReady.WithLabelValues(string(ref.Domain)).Dec()
	}
	return inst
}

func (m *Manager) boundInstance(ref types.Ref) *liveInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instances[ref]
}

// setState transitions a bound instance's state. Health reads state under
// the manager lock, so writes after bind go through here.
func (m *Manager) setState(inst *liveInstance, state types.InstanceState) {
	m.mu.Lock()
	inst.state = state
	m.mu.Unlock()
}

// Cleanup runs the instance's cleanup hook and destroys it.
func (m *Manager) Cleanup(ctx context.Context, domain types.Domain, key string) error {
	ref := types.Ref{Domain: domain, Key: key}
	lock := m.lockFor(ref)
	if err := lock.acquire(ctx); err != nil {
		return err
	}
	defer lock.release()

	inst := m.boundInstance(ref)
	if inst == nil {
		return nil
	}
	m.setState(inst, types.StateCleanup)

	err := runHook(ctx, m.timeouts.Cleanup, func(c context.Context) error {
		return cleanupInstance(c, inst.object)
	})
	m.unbind(ref)
	if err != nil {
		m.lifecycleError(inst.candidate, "cleanup", err)
		return errdefs.New(errdefs.ErrLifecycle, domain, key,
			fmt.Errorf("cleanup: %w", err)).WithProvider(inst.candidate.Provider)
	}
	return nil
}

// CleanupAll is the shutdown hook: it cleans every live instance in reverse
// bind order. Errors are logged; shutdown proceeds.
func (m *Manager) CleanupAll(ctx context.Context) {
	m.mu.RLock()
	refs := make([]types.Ref, 0, len(m.instances))
	for ref := range m.instances {
		refs = append(refs, ref)
	}
	instances := m.instances
	sort.Slice(refs, func(i, j int) bool {
		return instances[refs[i]].seq > instances[refs[j]].seq
	})
	m.mu.RUnlock()

	for _, ref := range refs {
		if err := m.Cleanup(ctx, ref.Domain, ref.Key); err != nil {
			m.logger.Warn().Err(err).
				Str("domain", string(ref.Domain)).
				Str("key", ref.Key).
				Msg("cleanup failed during shutdown")
		}
	}
}

// Health refreshes (probe=true) or reports (probe=false) every instance's
// health verdict. A cached verdict is acceptable for snapshotting endpoints.
func (m *Manager) Health(ctx context.Context, probe bool) []HealthStatus {
	m.mu.RLock()
	refs := make([]types.Ref, 0, len(m.instances))
	for ref := range m.instances {
		refs = append(refs, ref)
	}
	m.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })

	out := make([]HealthStatus, 0, len(refs))
	for _, ref := range refs {
		inst := m.boundInstance(ref)
		if inst == nil {
			continue
		}
		if probe {
			var healthy bool
			err := runHook(ctx, m.timeouts.Health, func(c context.Context) error {
				var herr error
				healthy, herr = healthOf(c, inst.object)
				return herr
			})
			m.mu.Lock()
			inst.healthy = healthy && err == nil
			inst.healthErr = err
			inst.checkedAt = time.Now()
			m.mu.Unlock()
		}
		m.mu.RLock()
		out = append(out, HealthStatus{
			Ref:       ref,
			Provider:  inst.candidate.Provider,
			State:     inst.state,
			Healthy:   inst.healthy,
			Err:       inst.healthErr,
			CheckedAt: inst.checkedAt,
		})
		m.mu.RUnlock()
	}
	return out
}

func (m *Manager) lifecycleError(cand *types.Candidate, op string, err error) {
	metrics.LifecycleErrorsTotal.WithLabelValues(string(cand.Domain), op).Inc()
	m.logger.Error().Err(err).
		Str("domain", string(cand.Domain)).
		Str("key", cand.Key).
		Str("provider", cand.Provider).
		Str("op", op).
		Msg("lifecycle operation failed")
	if m.broker != nil {
		m.broker.Emit(events.EventLifecycleError, cand, op+" failed", map[string]string{
			"op":    op,
			"error": err.Error(),
		})
	}
}
