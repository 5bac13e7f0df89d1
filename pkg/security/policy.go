package security

import (
	"fmt"
	"strings"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/types"
)

// defaultBlockedModules are factory module prefixes that must never resolve
// to code: process control, subprocess spawning, filesystem shell utilities,
// raw importers, and introspection helpers.
var defaultBlockedModules = []string{
	"os",
	"sys",
	"subprocess",
	"shutil",
	"shlex",
	"importlib",
	"builtins",
	"inspect",
	"ctypes",
	"pickle",
	"marshal",
	"runpy",
	"pty",
	"code",
}

// FactoryPolicy gates which factory references may ever resolve to a factory
// table entry. The block-list always applies; an allow-list, when configured,
// further restricts acceptable module prefixes.
type FactoryPolicy struct {
	blocked  []string
	allowed  []string
	hasAllow bool
}

// NewFactoryPolicy builds a policy from the configured allow-list. A set but
// empty allow-list rejects every factory; an unset allow-list applies only
// the block-list defaults.
func NewFactoryPolicy(allowlist []string, hasAllowlist bool) *FactoryPolicy {
	return &FactoryPolicy{
		blocked:  defaultBlockedModules,
		allowed:  allowlist,
		hasAllow: hasAllowlist,
	}
}

// CheckFactory validates a factory reference against the grammar, the
// block-list, and the allow-list. An empty reference is acceptable: such
// candidates select among pre-installed factories and carry no code.
func (p *FactoryPolicy) CheckFactory(ref string) error {
	if ref == "" {
		return nil
	}

	module, _, err := types.SplitFactory(ref)
	if err != nil {
		return errdefs.InvalidFactory(ref, err)
	}

	for _, prefix := range p.blocked {
		if matchesPrefix(module, prefix) {
			return errdefs.InvalidFactory(ref, fmt.Errorf("module %q is blocked", module))
		}
	}

	if p.hasAllow {
		for _, prefix := range p.allowed {
			if matchesPrefix(module, prefix) {
				return nil
			}
		}
		return errdefs.InvalidFactory(ref, fmt.Errorf("module %q is not on the allow-list", module))
	}

	return nil
}

// matchesPrefix reports whether module equals prefix or sits under it in
// dotted-module terms ("os" matches "os" and "os.path", not "oscar").
func matchesPrefix(module, prefix string) bool {
	return module == prefix || strings.HasPrefix(module, prefix+".")
}
