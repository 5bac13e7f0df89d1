package registry

import (
	"fmt"
	"sort"

	"github.com/cuemby/switchyard/pkg/config"
	"github.com/cuemby/switchyard/pkg/types"
)

// ResolveOptions narrow a resolution. Provider pins the selection to one
// provider (used by swap); RequiredCaps is a hard eligibility filter;
// OptionalCaps contribute to the capability score rung of the ladder.
type ResolveOptions struct {
	Provider     string
	RequiredCaps []string
	OptionalCaps []string
}

// Precedence ladder rule names, as cited by explain traces.
const (
	RuleProviderPin     = "provider-pin"
	RuleOverride        = "explicit-override"
	RuleRequiredCaps    = "required-capabilities"
	RuleCapabilityScore = "capability-score"
	RulePriority        = "priority"
	RuleStackLevel      = "stack-level"
	RuleRecency         = "registration-recency"
	RuleLexicographic   = "provider-lexicographic"
)

type elimination struct {
	rule   string
	detail string
}

// rank applies the precedence ladder to a candidate snapshot: filter rungs
// first (pin, override, required capabilities), then the ordering rungs.
// It returns the surviving candidates, winner first, and the filter
// eliminations for explain traces.
func rank(list []*types.Candidate, overrides config.OverrideTable, opts ResolveOptions, domain types.Domain, key string) ([]*types.Candidate, map[*types.Candidate]elimination) {
	eliminated := make(map[*types.Candidate]elimination)

	overrideProvider, hasOverride := overrides.Provider(domain, key)

	var eligible []*types.Candidate
	for _, c := range list {
		switch {
		case opts.Provider != "" && c.Provider != opts.Provider:
			eliminated[c] = elimination{RuleProviderPin,
				fmt.Sprintf("provider %q does not match requested %q", c.Provider, opts.Provider)}
		case hasOverride && c.Provider != overrideProvider:
			eliminated[c] = elimination{RuleOverride,
				fmt.Sprintf("override selects provider %q", overrideProvider)}
		case !hasAllCaps(c, opts.RequiredCaps):
			eliminated[c] = elimination{RuleRequiredCaps,
				fmt.Sprintf("missing required capabilities %v", missingCaps(c, opts.RequiredCaps))}
		default:
			eligible = append(eligible, c)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return compare(eligible[i], eligible[j], opts.OptionalCaps) > 0
	})
	return eligible, eliminated
}

// compare orders two eligible candidates by the ladder's ordering rungs.
// Positive means a wins over b.
func compare(a, b *types.Candidate, optionalCaps []string) int {
	if d := capScore(a, optionalCaps) - capScore(b, optionalCaps); d != 0 {
		return d
	}
	if d := a.Priority - b.Priority; d != 0 {
		return d
	}
	if d := a.StackLevel - b.StackLevel; d != 0 {
		return d
	}
	if a.RegisteredAt.After(b.RegisteredAt) {
		return 1
	}
	if b.RegisteredAt.After(a.RegisteredAt) {
		return -1
	}
	// Documented tie-break of last resort, so explain stays stable.
	switch {
	case a.Provider < b.Provider:
		return 1
	case a.Provider > b.Provider:
		return -1
	}
	return 0
}

// decidingRule names the first ladder rung that distinguishes a from b.
func decidingRule(a, b *types.Candidate, optionalCaps []string) string {
	switch {
	case capScore(a, optionalCaps) != capScore(b, optionalCaps):
		return RuleCapabilityScore
	case a.Priority != b.Priority:
		return RulePriority
	case a.StackLevel != b.StackLevel:
		return RuleStackLevel
	case !a.RegisteredAt.Equal(b.RegisteredAt):
		return RuleRecency
	default:
		return RuleLexicographic
	}
}

func capScore(c *types.Candidate, optionalCaps []string) int {
	score := 0
	for _, tag := range optionalCaps {
		if c.HasCapability(tag) {
			score++
		}
	}
	return score
}

func hasAllCaps(c *types.Candidate, required []string) bool {
	for _, tag := range required {
		if !c.HasCapability(tag) {
			return false
		}
	}
	return true
}

func missingCaps(c *types.Candidate, required []string) []string {
	var missing []string
	for _, tag := range required {
		if !c.HasCapability(tag) {
			missing = append(missing, tag)
		}
	}
	return missing
}
