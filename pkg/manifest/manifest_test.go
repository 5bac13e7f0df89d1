package manifest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/switchyard/pkg/security"
	"github.com/cuemby/switchyard/pkg/types"
)

func TestParse(t *testing.T) {
	raw := []byte(`
source: prod-manifest
profile:
  disable_watchers: true
entries:
  - domain: adapter
    key: cache
    provider: redis
    uri: https://artifacts.example.com/redis.tar.gz
    sha256: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
    stack_level: 5
    capabilities: [persistent, clustered]
    factory: ext.redis:NewAdapter
signature: c2ln
signer: release-key-1
`)
	m, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "prod-manifest", m.Source)
	assert.True(t, m.Profile.DisableWatchers)
	require.Len(t, m.Entries, 1)

	e := m.Entries[0]
	assert.Equal(t, types.DomainAdapter, e.Domain)
	assert.Equal(t, "cache", e.Key)
	assert.Equal(t, "redis", e.Provider)
	require.NotNil(t, e.StackLevel)
	assert.Equal(t, 5, *e.StackLevel)
	assert.Nil(t, e.Priority)
	assert.Equal(t, []string{"persistent", "clustered"}, e.Capabilities)
	assert.Equal(t, "release-key-1", m.Signer)

	sig, err := m.DecodeSignature()
	require.NoError(t, err)
	assert.Equal(t, []byte("sig"), sig)
}

func TestCanonicalStableAcrossFormatting(t *testing.T) {
	a := []byte(`
source: s
entries:
  - domain: adapter
    key: cache
    provider: redis
`)
	// Same document: keys reordered, different whitespace, plus the fields
	// the signature never covers.
	b := []byte(`entries:
-   provider:   redis
    domain: adapter
    key: cache
source: s
signature: aWdub3JlZA==
signer: whoever
`)
	ca, err := Canonical(a)
	require.NoError(t, err)
	cb, err := Canonical(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}

func TestCanonicalDiffersOnContent(t *testing.T) {
	a, err := Canonical([]byte("source: a\n"))
	require.NoError(t, err)
	b, err := Canonical([]byte("source: b\n"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	trust, err := security.NewTrustSet([]string{base64.StdEncoding.EncodeToString(pub)})
	require.NoError(t, err)

	raw := []byte("source: s\nentries: []\n")
	canonical, err := Canonical(raw)
	require.NoError(t, err)

	sig := security.Sign(priv, canonical)
	assert.NoError(t, trust.Verify(canonical, sig))

	// A reformatted copy of the same document still verifies.
	reformatted, err := Canonical([]byte("entries: []\nsource: s\n"))
	require.NoError(t, err)
	assert.NoError(t, trust.Verify(reformatted, sig))

	// Tampering breaks it.
	tampered, err := Canonical([]byte("source: s\nentries: [{domain: adapter, key: x, provider: p}]\n"))
	require.NoError(t, err)
	assert.Error(t, trust.Verify(tampered, sig))
}
