package registry

import (
	"fmt"
	"strings"

	"github.com/cuemby/switchyard/pkg/types"
)

// Explanation is a decision trace for one resolution: every candidate
// considered and the rule that eliminated it or made it the winner.
type Explanation struct {
	Ref        types.Ref        `json:"ref"`
	Winner     *types.Candidate `json:"winner,omitempty"`
	WinnerRule string           `json:"winner_rule,omitempty"`
	Considered []Consideration  `json:"considered"`
}

// Consideration records the outcome for one candidate.
type Consideration struct {
	Candidate *types.Candidate `json:"candidate"`
	Winner    bool             `json:"winner"`
	Rule      string           `json:"rule"`
	Detail    string           `json:"detail,omitempty"`
}

// Explain resolves a plug point and reports why each candidate won or lost.
// The trace is deterministic: identical registry state yields an identical
// trace.
func (r *Registry) Explain(domain types.Domain, key string) *Explanation {
	return r.ExplainWith(domain, key, ResolveOptions{})
}

// ExplainWith explains a resolution under capability filters.
func (r *Registry) ExplainWith(domain types.Domain, key string, opts ResolveOptions) *Explanation {
	snapshot, overrides := r.snapshot(types.Ref{Domain: domain, Key: key})
	ranked, eliminated := rank(snapshot, overrides, opts, domain, key)

	ex := &Explanation{Ref: types.Ref{Domain: domain, Key: key}}

	if len(ranked) > 0 {
		ex.Winner = ranked[0]
		if len(ranked) > 1 {
			ex.WinnerRule = decidingRule(ranked[0], ranked[1], opts.OptionalCaps)
		} else if len(eliminated) > 0 {
			// Sole survivor: the filter rung that removed the competition
			// decided. Snapshot order keeps the trace deterministic.
			for _, c := range snapshot {
				if e, ok := eliminated[c]; ok {
					ex.WinnerRule = e.rule
					break
				}
			}
		} else {
			ex.WinnerRule = "sole-candidate"
		}
		ex.Considered = append(ex.Considered, Consideration{
			Candidate: ranked[0],
			Winner:    true,
			Rule:      ex.WinnerRule,
		})
	}

	// Losers that survived the filters: cite the rung that ranked them below
	// the winner.
	for _, c := range ranked[min(1, len(ranked)):] {
		ex.Considered = append(ex.Considered, Consideration{
			Candidate: c,
			Rule:      decidingRule(ex.Winner, c, opts.OptionalCaps),
			Detail:    fmt.Sprintf("outranked by provider %q", ex.Winner.Provider),
		})
	}

	// Filtered-out candidates, in snapshot order for determinism.
	for _, c := range snapshot {
		if e, ok := eliminated[c]; ok {
			ex.Considered = append(ex.Considered, Consideration{
				Candidate: c,
				Rule:      e.rule,
				Detail:    e.detail,
			})
		}
	}

	return ex
}

// String renders the trace for operator output.
func (ex *Explanation) String() string {
	var b strings.Builder
	if ex.Winner == nil {
		fmt.Fprintf(&b, "%s: no eligible candidate\n", ex.Ref)
	} else {
		fmt.Fprintf(&b, "%s: provider %q wins by %s\n", ex.Ref, ex.Winner.Provider, ex.WinnerRule)
	}
	for _, c := range ex.Considered {
		if c.Winner {
			continue
		}
		fmt.Fprintf(&b, "  - provider %q lost on %s", c.Candidate.Provider, c.Rule)
		if c.Detail != "" {
			fmt.Fprintf(&b, " (%s)", c.Detail)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
