package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/types"
)

// Factory constructs an instance from a candidate descriptor. The returned
// instance is opaque to the core; lifecycle hooks are discovered via the
// optional interfaces in pkg/lifecycle.
type Factory func(ctx context.Context, c *types.Candidate) (interface{}, error)

// FactoryTable maps "module:symbol" references to constructors. In a
// statically compiled binary the table is populated at program start by each
// extension's init path; the security policy filters which references may
// ever be looked up.
type FactoryTable struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactoryTable creates an empty factory table.
func NewFactoryTable() *FactoryTable {
	return &FactoryTable{
		factories: make(map[string]Factory),
	}
}

// Add registers a constructor under a factory reference. The reference must
// satisfy the factory grammar; later registrations replace earlier ones.
func (t *FactoryTable) Add(ref string, fn Factory) error {
	if _, _, err := types.SplitFactory(ref); err != nil {
		return errdefs.InvalidFactory(ref, err)
	}
	if fn == nil {
		return errdefs.InvalidFactory(ref, fmt.Errorf("nil factory"))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.factories[ref] = fn
	return nil
}

// Lookup resolves a reference to a constructor. The caller is expected to
// have passed the reference through the security policy already; Lookup only
// answers presence.
func (t *FactoryTable) Lookup(ref string) (Factory, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.factories[ref]
	return fn, ok
}

// Refs returns every registered factory reference.
func (t *FactoryTable) Refs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	refs := make([]string, 0, len(t.factories))
	for ref := range t.factories {
		refs = append(refs, ref)
	}
	return refs
}

// defaultTable is the process-wide table extensions register into from init
// functions. Tests build their own tables.
var defaultTable = NewFactoryTable()

// DefaultTable returns the process-wide factory table.
func DefaultTable() *FactoryTable {
	return defaultTable
}

// MustAddFactory registers into the default table and panics on a malformed
// reference. Intended for extension init functions, where a bad reference is
// a programming error.
func MustAddFactory(ref string, fn Factory) {
	if err := defaultTable.Add(ref, fn); err != nil {
		panic(err)
	}
}
