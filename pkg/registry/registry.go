package registry

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/switchyard/pkg/config"
	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/events"
	"github.com/cuemby/switchyard/pkg/metrics"
	"github.com/cuemby/switchyard/pkg/security"
	"github.com/cuemby/switchyard/pkg/types"
)

// Registry owns the authoritative candidate set and answers "which candidate
// is active for (domain, key)" identically for every caller.
type Registry struct {
	mu         sync.RWMutex
	candidates map[types.Ref][]*types.Candidate
	overrides  config.OverrideTable

	policy *security.FactoryPolicy
	broker *events.Broker
}

// New creates a registry guarded by the given factory policy. Events are
// published to broker on every mutation; broker may be nil in tests.
func New(policy *security.FactoryPolicy, broker *events.Broker) *Registry {
	return &Registry{
		candidates: make(map[types.Ref][]*types.Candidate),
		overrides:  config.OverrideTable{},
		policy:     policy,
		broker:     broker,
	}
}

// Register validates a candidate and inserts it, replacing any prior
// candidate with the same (domain, key, provider, source) identity. The
// replacement inherits the higher registered_at so recency ordering is
// monotonic across re-registrations.
func (r *Registry) Register(c *types.Candidate) error {
	if err := r.validate(c); err != nil {
		return err
	}
	if err := r.policy.CheckFactory(c.Factory); err != nil {
		return err
	}

	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = time.Now()
	}

	r.mu.Lock()
	ref := c.Ref()
	list := r.candidates[ref]
	replaced := false
	for i, existing := range list {
		if existing.Identity() == c.Identity() {
			if existing.RegisteredAt.After(c.RegisteredAt) {
				c.RegisteredAt = existing.RegisteredAt
			}
			list[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		r.candidates[ref] = append(list, c)
	}
	size := len(r.candidates[ref])
	r.mu.Unlock()

	metrics.CandidatesTotal.WithLabelValues(string(c.Domain)).Set(float64(r.countDomain(c.Domain)))
	metrics.RegistrationsTotal.WithLabelValues(string(c.Domain), string(c.Source)).Inc()

	if r.broker != nil {
		r.broker.Emit(events.EventCandidateRegistered, c, "candidate registered", map[string]string{
			"candidates": strconv.Itoa(size),
		})
	}
	return nil
}

// Unregister removes the candidate matching the full identity. Removing a
// missing candidate is a no-op.
func (r *Registry) Unregister(domain types.Domain, key, provider string, source types.Source) {
	ref := types.Ref{Domain: domain, Key: key}
	identity := (&types.Candidate{Domain: domain, Key: key, Provider: provider, Source: source}).Identity()

	r.mu.Lock()
	list := r.candidates[ref]
	var removed *types.Candidate
	for i, c := range list {
		if c.Identity() == identity {
			removed = c
			r.candidates[ref] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.candidates[ref]) == 0 {
		delete(r.candidates, ref)
	}
	r.mu.Unlock()

	if removed != nil {
		metrics.CandidatesTotal.WithLabelValues(string(domain)).Set(float64(r.countDomain(domain)))
		if r.broker != nil {
			r.broker.Emit(events.EventCandidateUnregistered, removed, "candidate unregistered", nil)
		}
	}
}

// SetOverrides atomically replaces the explicit selection table.
func (r *Registry) SetOverrides(t config.OverrideTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t == nil {
		t = config.OverrideTable{}
	}
	r.overrides = t
}

// Overrides returns the current override table.
func (r *Registry) Overrides() config.OverrideTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overrides
}

// Candidates returns a snapshot of every candidate for a plug point, ordered
// by the precedence ladder (winner first).
func (r *Registry) Candidates(domain types.Domain, key string) []*types.Candidate {
	snapshot, overrides := r.snapshot(types.Ref{Domain: domain, Key: key})
	ranked, _ := rank(snapshot, overrides, ResolveOptions{}, domain, key)
	return ranked
}

// Resolve returns the active candidate for a plug point, or nil when no
// candidate is eligible. Resolution misses are not errors.
func (r *Registry) Resolve(domain types.Domain, key string) *types.Candidate {
	return r.ResolveWith(domain, key, ResolveOptions{})
}

// ResolveWith resolves with capability filters and an optional provider pin.
func (r *Registry) ResolveWith(domain types.Domain, key string, opts ResolveOptions) *types.Candidate {
	snapshot, overrides := r.snapshot(types.Ref{Domain: domain, Key: key})
	ranked, _ := rank(snapshot, overrides, opts, domain, key)
	metrics.ResolvesTotal.WithLabelValues(string(domain)).Inc()
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0]
}

// ListActive returns the active candidate per key in a domain, keyed by ref,
// in stable key order.
func (r *Registry) ListActive(domain types.Domain) []*types.Candidate {
	var out []*types.Candidate
	for _, ref := range r.refsInDomain(domain) {
		if winner := r.Resolve(ref.Domain, ref.Key); winner != nil {
			out = append(out, winner)
		}
	}
	return out
}

// ListShadowed returns every non-active candidate in a domain.
func (r *Registry) ListShadowed(domain types.Domain) []*types.Candidate {
	var out []*types.Candidate
	for _, ref := range r.refsInDomain(domain) {
		ranked := r.Candidates(ref.Domain, ref.Key)
		if len(ranked) > 1 {
			out = append(out, ranked[1:]...)
		}
	}
	return out
}

// Clear removes every candidate. Used by tests and shutdown paths.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = make(map[types.Ref][]*types.Candidate)
}

func (r *Registry) validate(c *types.Candidate) error {
	if c == nil {
		return errdefs.InvalidIdentity("nil candidate")
	}
	if !c.Domain.Valid() {
		return errdefs.InvalidIdentity("unknown domain %q", c.Domain)
	}
	if !types.ValidKey(c.Key) {
		return errdefs.InvalidIdentity("invalid key %q", c.Key)
	}
	if c.Provider != "" && !types.ValidKey(c.Provider) {
		return errdefs.InvalidIdentity("invalid provider %q", c.Provider)
	}
	if c.Priority != types.PriorityUnset && !types.ValidPriority(c.Priority) {
		return errdefs.InvalidIdentity("priority %d out of bounds", c.Priority)
	}
	if c.StackLevel != types.StackLevelUnset && !types.ValidStackLevel(c.StackLevel) {
		return errdefs.InvalidIdentity("stack_level %d out of bounds", c.StackLevel)
	}
	return nil
}

// snapshot copies the candidate list and override table under the read lock
// so ranking runs without holding it.
func (r *Registry) snapshot(ref types.Ref) ([]*types.Candidate, config.OverrideTable) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.candidates[ref]
	out := make([]*types.Candidate, len(list))
	copy(out, list)
	return out, r.overrides
}

func (r *Registry) refsInDomain(domain types.Domain) []types.Ref {
	r.mu.RLock()
	refs := make([]types.Ref, 0)
	for ref := range r.candidates {
		if ref.Domain == domain {
			refs = append(refs, ref)
		}
	}
	r.mu.RUnlock()

	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs
}

func (r *Registry) countDomain(domain types.Domain) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for ref, list := range r.candidates {
		if ref.Domain == domain {
			n += len(list)
		}
	}
	return n
}
