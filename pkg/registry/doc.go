/*
Package registry owns Switchyard's candidate set and the precedence resolver
that selects the active candidate per (domain, key).

# Architecture

	┌───────────────────── REGISTRY ──────────────────────┐
	│                                                      │
	│  ┌────────────────────────────────────────┐         │
	│  │       Candidate Map                     │         │
	│  │  (domain, key) → ordered candidates     │         │
	│  │  - RWMutex: concurrent reads            │         │
	│  │  - writes serialize with reads          │         │
	│  └──────────────────┬─────────────────────┘         │
	│                     │ snapshot                       │
	│  ┌──────────────────▼─────────────────────┐         │
	│  │       Precedence Ladder                 │         │
	│  │  1. explicit override (filter)          │         │
	│  │  2. optional capability score           │         │
	│  │  3. priority (stack order)              │         │
	│  │  4. stack level (candidate z-index)     │         │
	│  │  5. registration recency                │         │
	│  │  tie-break: provider lexicographic      │         │
	│  └──────────────────┬─────────────────────┘         │
	│                     │                                │
	│  ┌──────────────────▼─────────────────────┐         │
	│  │  resolve / list_active / list_shadowed  │         │
	│  │  explain (decision trace)               │         │
	│  └────────────────────────────────────────┘         │
	└──────────────────────────────────────────────────────┘

Reads take a snapshot of the candidate slice under the read lock and rank
outside it, so resolution never observes a torn write: a resolve concurrent
with a register sees the set either before or after the mutation.

# Registration

Register validates the identity grammar and numeric bounds, runs the factory
reference through the security policy, and replaces any candidate with the
same (domain, key, provider, source) identity. The replacement inherits the
higher registered_at so recency never moves backwards. Registration misses
nothing silently: a rejected candidate surfaces errdefs.ErrInvalidIdentity or
errdefs.ErrInvalidFactory to the registrant.

# Factory table

Factories are referenced by "module:symbol" strings. The FactoryTable maps
those strings to constructors registered at program start by each extension;
the security policy filters which strings may ever resolve to a table entry.
*/
package registry
