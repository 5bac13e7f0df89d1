package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Domain is one of the closed set of plug-point namespaces.
type Domain string

const (
	DomainAdapter  Domain = "adapter"
	DomainService  Domain = "service"
	DomainTask     Domain = "task"
	DomainEvent    Domain = "event"
	DomainWorkflow Domain = "workflow"
)

// Domains lists every valid domain in a stable order.
var Domains = []Domain{
	DomainAdapter,
	DomainService,
	DomainTask,
	DomainEvent,
	DomainWorkflow,
}

// Valid reports whether d is a member of the closed domain set.
func (d Domain) Valid() bool {
	switch d {
	case DomainAdapter, DomainService, DomainTask, DomainEvent, DomainWorkflow:
		return true
	}
	return false
}

// Source identifies where a candidate was discovered.
type Source string

const (
	SourceLocalPkg       Source = "local_pkg"
	SourceRemoteManifest Source = "remote_manifest"
	SourceEntryPoint     Source = "entry_point"
	SourceManual         Source = "manual"
)

// Numeric bounds for candidate ordering fields.
const (
	MinPriority   = -1000
	MaxPriority   = 1000
	MinStackLevel = -100
	MaxStackLevel = 100
)

// PriorityUnset marks an absent priority; it sorts below every valid value.
const PriorityUnset = MinPriority - 1

// StackLevelUnset marks an absent stack level; it sorts below every valid value.
const StackLevelUnset = MinStackLevel - 1

// Candidate is an immutable descriptor of one possible implementation for a
// (domain, key) pair. Candidates are compared by the resolver's precedence
// ladder; at most one per (domain, key) is active at any time.
//
// Priority and StackLevel distinguish "absent" from zero: 0 is a valid
// mid-range rank, absent is PriorityUnset/StackLevelUnset and sorts below
// every explicit value. Build direct registrations with NewCandidate so a
// zero-valued struct does not accidentally outrank unset peers.
type Candidate struct {
	Domain       Domain            `json:"domain"`
	Key          string            `json:"key"`
	Provider     string            `json:"provider,omitempty"`
	Priority     int               `json:"priority"`
	StackLevel   int               `json:"stack_level"`
	Factory      string            `json:"factory,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Version      string            `json:"version,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Source       Source            `json:"source"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// NewCandidate returns a candidate with both ordering fields absent. Callers
// opt into the priority ladder by setting them explicitly afterwards.
func NewCandidate(domain Domain, key, provider string) *Candidate {
	return &Candidate{
		Domain:     domain,
		Key:        key,
		Provider:   provider,
		Priority:   PriorityUnset,
		StackLevel: StackLevelUnset,
	}
}

// Identity returns the replacement identity (domain, key, provider, source).
// Re-registering under the same identity replaces the prior candidate.
func (c *Candidate) Identity() string {
	return fmt.Sprintf("%s/%s/%s/%s", c.Domain, c.Key, c.Provider, c.Source)
}

// Ref returns the (domain, key) the candidate competes for.
func (c *Candidate) Ref() Ref {
	return Ref{Domain: c.Domain, Key: c.Key}
}

// HasCapability reports whether the candidate declares the given tag.
func (c *Candidate) HasCapability(tag string) bool {
	for _, t := range c.Capabilities {
		if t == tag {
			return true
		}
	}
	return false
}

// Ref names one logical plug point.
type Ref struct {
	Domain Domain `json:"domain"`
	Key    string `json:"key"`
}

func (r Ref) String() string {
	return string(r.Domain) + "/" + r.Key
}

// InstanceState tracks a live instance through its lifecycle.
type InstanceState string

const (
	StateUninit       InstanceState = "uninit"
	StateInitializing InstanceState = "initializing"
	StateReady        InstanceState = "ready"
	StatePaused       InstanceState = "paused"
	StateDraining     InstanceState = "draining"
	StateCleanup      InstanceState = "cleanup"
	StateFailed       InstanceState = "failed"
)

// ActivityRecord is the persisted pause/drain state for a plug point. It
// survives process restarts via the activity store.
type ActivityRecord struct {
	Domain    Domain    `json:"domain"`
	Key       string    `json:"key"`
	Paused    bool      `json:"paused"`
	Draining  bool      `json:"draining"`
	Note      string    `json:"note,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Idle reports whether the record carries no activity state and can be
// cleared from the store.
func (a *ActivityRecord) Idle() bool {
	return !a.Paused && !a.Draining
}

// SwapRequest asks the orchestrator to swap the live instance for a plug
// point, optionally pinning a provider.
type SwapRequest struct {
	Domain   Domain
	Key      string
	Provider string
	Force    bool
	Reason   string
}

var (
	keyPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)
	modulePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
	symbolPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidKey reports whether s satisfies the key/provider grammar:
// dotted segments of [A-Za-z0-9_-], no traversal sequences, no separators.
func ValidKey(s string) bool {
	if s == "" || strings.Contains(s, "..") ||
		strings.ContainsAny(s, `/\`) {
		return false
	}
	return keyPattern.MatchString(s)
}

// SplitFactory splits a factory reference into its module and symbol parts
// and validates both against the factory grammar.
func SplitFactory(ref string) (module, symbol string, err error) {
	i := strings.IndexByte(ref, ':')
	if i < 0 {
		return "", "", fmt.Errorf("factory %q: missing ':' separator", ref)
	}
	module, symbol = ref[:i], ref[i+1:]
	if !modulePattern.MatchString(module) {
		return "", "", fmt.Errorf("factory %q: invalid module %q", ref, module)
	}
	if !symbolPattern.MatchString(symbol) {
		return "", "", fmt.Errorf("factory %q: invalid symbol %q", ref, symbol)
	}
	return module, symbol, nil
}

// ValidPriority reports whether p is inside the documented bounds.
func ValidPriority(p int) bool {
	return p >= MinPriority && p <= MaxPriority
}

// ValidStackLevel reports whether l is inside the documented bounds.
func ValidStackLevel(l int) bool {
	return l >= MinStackLevel && l <= MaxStackLevel
}
