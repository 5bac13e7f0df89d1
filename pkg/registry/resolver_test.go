package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/switchyard/pkg/config"
	"github.com/cuemby/switchyard/pkg/types"
)

func TestPrecedenceByPriority(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(candidate("cache", "a", 10, 5)))
	require.NoError(t, r.Register(candidate("cache", "b", 20, 5)))

	got := r.Resolve(types.DomainAdapter, "cache")
	require.NotNil(t, got)
	assert.Equal(t, "b", got.Provider)

	ex := r.Explain(types.DomainAdapter, "cache")
	assert.Equal(t, RulePriority, ex.WinnerRule)
}

func TestPrecedenceByStackLevel(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(candidate("cache", "a", 10, 5)))
	require.NoError(t, r.Register(candidate("cache", "b", 10, 50)))

	got := r.Resolve(types.DomainAdapter, "cache")
	require.NotNil(t, got)
	assert.Equal(t, "b", got.Provider)

	ex := r.Explain(types.DomainAdapter, "cache")
	assert.Equal(t, RuleStackLevel, ex.WinnerRule)
}

func TestExplicitOverrideDominates(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(candidate("cache", "a", 10, 5)))
	require.NoError(t, r.Register(candidate("cache", "b", 10, 50)))

	overrides, err := config.ParseOverrides([]byte("overrides:\n  adapter:\n    cache: a\n"))
	require.NoError(t, err)
	r.SetOverrides(overrides)

	got := r.Resolve(types.DomainAdapter, "cache")
	require.NotNil(t, got)
	assert.Equal(t, "a", got.Provider)

	ex := r.Explain(types.DomainAdapter, "cache")
	assert.Equal(t, RuleOverride, ex.WinnerRule)

	// Override naming an absent provider eliminates everything.
	overrides, err = config.ParseOverrides([]byte("overrides:\n  adapter:\n    cache: missing\n"))
	require.NoError(t, err)
	r.SetOverrides(overrides)
	assert.Nil(t, r.Resolve(types.DomainAdapter, "cache"))
}

func TestNewCandidateRanksBelowExplicit(t *testing.T) {
	r := newTestRegistry()

	unset := types.NewCandidate(types.DomainAdapter, "cache", "a")
	unset.Source = types.SourceLocalPkg
	require.NoError(t, r.Register(unset))

	explicit := candidate("cache", "b", 0, 0)
	require.NoError(t, r.Register(explicit))

	// An explicit priority of 0 is a real mid-range rank; absent sorts below.
	got := r.Resolve(types.DomainAdapter, "cache")
	require.NotNil(t, got)
	assert.Equal(t, "b", got.Provider)

	ex := r.Explain(types.DomainAdapter, "cache")
	assert.Equal(t, RulePriority, ex.WinnerRule)
}

func TestPrecedenceByRecency(t *testing.T) {
	r := newTestRegistry()

	older := candidate("cache", "a", 10, 5)
	older.RegisteredAt = time.Now().Add(-time.Minute)
	newer := candidate("cache", "b", 10, 5)
	newer.RegisteredAt = time.Now()

	require.NoError(t, r.Register(older))
	require.NoError(t, r.Register(newer))

	got := r.Resolve(types.DomainAdapter, "cache")
	assert.Equal(t, "b", got.Provider)

	ex := r.Explain(types.DomainAdapter, "cache")
	assert.Equal(t, RuleRecency, ex.WinnerRule)
}

func TestProviderLexicographicLastResort(t *testing.T) {
	r := newTestRegistry()
	at := time.Now()

	for _, p := range []string{"zebra", "alpha"} {
		c := candidate("cache", p, 10, 5)
		c.RegisteredAt = at
		require.NoError(t, r.Register(c))
	}

	got := r.Resolve(types.DomainAdapter, "cache")
	assert.Equal(t, "alpha", got.Provider)

	ex := r.Explain(types.DomainAdapter, "cache")
	assert.Equal(t, RuleLexicographic, ex.WinnerRule)
}

func TestUnsetPriorityIsLowest(t *testing.T) {
	r := newTestRegistry()
	unset := candidate("cache", "a", types.PriorityUnset, 5)
	require.NoError(t, r.Register(unset))
	require.NoError(t, r.Register(candidate("cache", "b", -1000, 5)))

	got := r.Resolve(types.DomainAdapter, "cache")
	assert.Equal(t, "b", got.Provider)
}

func TestRequiredCapabilitiesFilter(t *testing.T) {
	r := newTestRegistry()

	withTTL := candidate("cache", "redis", 10, 0)
	withTTL.Capabilities = []string{"ttl", "pubsub"}
	plain := candidate("cache", "memory", 20, 0)
	require.NoError(t, r.Register(withTTL))
	require.NoError(t, r.Register(plain))

	got := r.ResolveWith(types.DomainAdapter, "cache", ResolveOptions{RequiredCaps: []string{"ttl"}})
	require.NotNil(t, got)
	assert.Equal(t, "redis", got.Provider)

	assert.Nil(t, r.ResolveWith(types.DomainAdapter, "cache", ResolveOptions{RequiredCaps: []string{"cluster"}}))
}

func TestOptionalCapabilityScoreBeatsPriority(t *testing.T) {
	r := newTestRegistry()

	scored := candidate("cache", "redis", 10, 0)
	scored.Capabilities = []string{"ttl", "pubsub"}
	strong := candidate("cache", "memory", 20, 0)
	strong.Capabilities = []string{"ttl"}
	require.NoError(t, r.Register(scored))
	require.NoError(t, r.Register(strong))

	// More optional matches wins before priority.
	got := r.ResolveWith(types.DomainAdapter, "cache", ResolveOptions{OptionalCaps: []string{"ttl", "pubsub"}})
	require.NotNil(t, got)
	assert.Equal(t, "redis", got.Provider)

	ex := r.ExplainWith(types.DomainAdapter, "cache", ResolveOptions{OptionalCaps: []string{"ttl", "pubsub"}})
	assert.Equal(t, RuleCapabilityScore, ex.WinnerRule)
}

func TestProviderPin(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(candidate("cache", "redis", 20, 0)))
	require.NoError(t, r.Register(candidate("cache", "memory", 10, 0)))

	got := r.ResolveWith(types.DomainAdapter, "cache", ResolveOptions{Provider: "memory"})
	require.NotNil(t, got)
	assert.Equal(t, "memory", got.Provider)
}

func TestExplainEnumeratesEveryCandidate(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register(candidate("cache", "a", 10, 5)))
	require.NoError(t, r.Register(candidate("cache", "b", 20, 5)))

	withCaps := candidate("cache", "c", 30, 5)
	withCaps.Capabilities = []string{"ttl"}
	require.NoError(t, r.Register(withCaps))

	ex := r.ExplainWith(types.DomainAdapter, "cache", ResolveOptions{RequiredCaps: []string{"ttl"}})
	require.NotNil(t, ex.Winner)
	assert.Equal(t, "c", ex.Winner.Provider)
	assert.Len(t, ex.Considered, 3)

	eliminated := 0
	for _, con := range ex.Considered {
		if con.Rule == RuleRequiredCaps {
			eliminated++
		}
	}
	assert.Equal(t, 2, eliminated)
	assert.NotEmpty(t, ex.String())
}

func TestExplainMiss(t *testing.T) {
	r := newTestRegistry()
	ex := r.Explain(types.DomainAdapter, "missing")
	assert.Nil(t, ex.Winner)
	assert.Empty(t, ex.Considered)
	assert.Contains(t, ex.String(), "no eligible candidate")
}

func TestExplainIsStable(t *testing.T) {
	r := newTestRegistry()
	at := time.Now()
	for _, p := range []string{"c", "a", "b"} {
		c := candidate("cache", p, 10, 5)
		c.RegisteredAt = at
		require.NoError(t, r.Register(c))
	}

	first := r.Explain(types.DomainAdapter, "cache").String()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Explain(types.DomainAdapter, "cache").String())
	}
}
