package manifest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/events"
	"github.com/cuemby/switchyard/pkg/registry"
	"github.com/cuemby/switchyard/pkg/security"
	"github.com/cuemby/switchyard/pkg/storage"
	"github.com/cuemby/switchyard/pkg/types"
)

// signManifest appends a detached signature over the canonical form.
func signManifest(t *testing.T, priv ed25519.PrivateKey, unsigned string) string {
	t.Helper()
	canonical, err := Canonical([]byte(unsigned))
	require.NoError(t, err)
	sig := security.Sign(priv, canonical)
	return unsigned + "signature: " + base64.StdEncoding.EncodeToString(sig) + "\n"
}

func newTrust(t *testing.T) (*security.TrustSet, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	trust, err := security.NewTrustSet([]string{base64.StdEncoding.EncodeToString(pub)})
	require.NoError(t, err)
	return trust, priv
}

func TestLoaderHappyPath(t *testing.T) {
	trust, priv := newTrust(t)
	artifact := []byte("adapter artifact payload")

	mux := http.NewServeMux()
	mux.HandleFunc("/artifact", func(w http.ResponseWriter, r *http.Request) {
		w.Write(artifact)
	})
	var manifestBody string
	mux.HandleFunc("/manifest.yaml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, manifestBody)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	unsigned := fmt.Sprintf(`source: test
entries:
  - domain: adapter
    key: cache
    provider: redis
    uri: %s/artifact
    sha256: %s
    stack_level: 5
`, srv.URL, digestOf(artifact))
	manifestBody = signManifest(t, priv, unsigned)

	reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
	cache, err := NewArtifactCache(t.TempDir())
	require.NoError(t, err)

	loader, err := NewLoader(LoaderOptions{
		Source:   srv.URL + "/manifest.yaml",
		Registry: reg,
		Cache:    cache,
		Trust:    trust,
		Fetcher:  NewSchemeFetcher(),
	})
	require.NoError(t, err)

	cands, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, types.SourceRemoteManifest, cands[0].Source)
	assert.Equal(t, 5, cands[0].StackLevel)
	assert.True(t, cache.Has(digestOf(artifact)))

	active := reg.Resolve(types.DomainAdapter, "cache")
	require.NotNil(t, active)
	assert.Equal(t, "redis", active.Provider)
}

func TestLoaderDigestMismatch(t *testing.T) {
	trust, priv := newTrust(t)
	promised := digestOf([]byte("the bytes the manifest promised"))

	mux := http.NewServeMux()
	mux.HandleFunc("/artifact", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("different bytes entirely"))
	})
	var manifestBody string
	mux.HandleFunc("/manifest.yaml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, manifestBody)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	unsigned := fmt.Sprintf(`source: test
entries:
  - domain: adapter
    key: cache
    provider: sketchy
    uri: %s/artifact
    sha256: %s
`, srv.URL, promised)
	manifestBody = signManifest(t, priv, unsigned)

	broker := events.NewBroker(false)
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
	cache, err := NewArtifactCache(t.TempDir())
	require.NoError(t, err)

	loader, err := NewLoader(LoaderOptions{
		Source:   srv.URL + "/manifest.yaml",
		Registry: reg,
		Cache:    cache,
		Trust:    trust,
		Broker:   broker,
		Fetcher:  NewSchemeFetcher(),
	})
	require.NoError(t, err)

	cands, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cands)
	assert.Nil(t, reg.Resolve(types.DomainAdapter, "cache"))
	assert.False(t, cache.Has(promised))

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventIntegrityViolation, ev.Type)
		assert.Equal(t, "sketchy", ev.Provider)
	case <-time.After(2 * time.Second):
		t.Fatal("no integrity-violation event received")
	}
}

func TestLoaderWithdrawsMissingEntries(t *testing.T) {
	trust, priv := newTrust(t)

	var manifestBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, manifestBody)
	}))
	defer srv.Close()

	reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
	loader, err := NewLoader(LoaderOptions{
		Source:   srv.URL,
		Registry: reg,
		Trust:    trust,
		Fetcher:  NewSchemeFetcher(),
	})
	require.NoError(t, err)

	manifestBody = signManifest(t, priv, `source: test
entries:
  - domain: adapter
    key: cache
    provider: redis
  - domain: adapter
    key: queue
    provider: rabbitmq
`)
	cands, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 2)

	// The source drops the cache entry; its candidate must stop competing.
	manifestBody = signManifest(t, priv, `source: test
entries:
  - domain: adapter
    key: queue
    provider: rabbitmq
`)
	cands, err = loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)

	require.Nil(t, reg.Resolve(types.DomainAdapter, "cache"))
	queue := reg.Resolve(types.DomainAdapter, "queue")
	require.NotNil(t, queue)
	assert.Equal(t, "rabbitmq", queue.Provider)

	// Full withdrawal empties the source's contribution.
	manifestBody = signManifest(t, priv, "source: test\nentries: []\n")
	cands, err = loader.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cands)
	assert.Nil(t, reg.Resolve(types.DomainAdapter, "queue"))
}

func TestLoaderWithdrawalSparesOtherSources(t *testing.T) {
	trust, priv := newTrust(t)

	body := signManifest(t, priv, "source: test\nentries: []\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
	local := &types.Candidate{
		Domain:     types.DomainAdapter,
		Key:        "cache",
		Provider:   "memory",
		Priority:   types.PriorityUnset,
		StackLevel: types.StackLevelUnset,
		Source:     types.SourceLocalPkg,
	}
	require.NoError(t, reg.Register(local))

	loader, err := NewLoader(LoaderOptions{
		Source:   srv.URL,
		Registry: reg,
		Trust:    trust,
		Fetcher:  NewSchemeFetcher(),
	})
	require.NoError(t, err)

	// An empty manifest withdraws nothing it never registered.
	_, err = loader.Load(context.Background())
	require.NoError(t, err)
	active := reg.Resolve(types.DomainAdapter, "cache")
	require.NotNil(t, active)
	assert.Equal(t, "memory", active.Provider)
}

func TestLoaderRejectsUnsignedWithTrust(t *testing.T) {
	trust, _ := newTrust(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "source: test\nentries: []\n")
	}))
	defer srv.Close()

	reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
	loader, err := NewLoader(LoaderOptions{
		Source:   srv.URL,
		Registry: reg,
		Trust:    trust,
		Fetcher:  NewSchemeFetcher(),
	})
	require.NoError(t, err)

	_, err = loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrIntegrity))
}

func TestLoaderZeroEntriesNoop(t *testing.T) {
	trust, priv := newTrust(t)
	body := signManifest(t, priv, "source: test\nentries: []\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
	loader, err := NewLoader(LoaderOptions{
		Source:   srv.URL,
		Registry: reg,
		Trust:    trust,
		Fetcher:  NewSchemeFetcher(),
	})
	require.NoError(t, err)

	cands, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestLoaderInlineProfileSkipsArtifacts(t *testing.T) {
	trust, priv := newTrust(t)

	// The entry names an artifact, but the inline profile means the
	// candidate selects an installed factory; no artifact server exists.
	body := signManifest(t, priv, `source: test
profile:
  inline: true
entries:
  - domain: adapter
    key: cache
    provider: redis
    uri: https://artifacts.invalid/blob
    sha256: `+digestOf([]byte("never fetched"))+`
`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
	cache, err := NewArtifactCache(t.TempDir())
	require.NoError(t, err)

	loader, err := NewLoader(LoaderOptions{
		Source:   srv.URL,
		Registry: reg,
		Cache:    cache,
		Trust:    trust,
		Fetcher:  NewSchemeFetcher(),
	})
	require.NoError(t, err)

	cands, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.True(t, loader.Profile().Inline)
	assert.Nil(t, cands[0].Metadata)
	assert.False(t, cache.Has(digestOf([]byte("never fetched"))))
}

func TestLoaderEntryValidation(t *testing.T) {
	trust, priv := newTrust(t)

	tests := []struct {
		name  string
		entry string
	}{
		{
			name:  "invalid domain",
			entry: "  - domain: kernel\n    key: cache\n    provider: p\n",
		},
		{
			name:  "key with traversal",
			entry: "  - domain: adapter\n    key: ../../etc\n    provider: p\n",
		},
		{
			name:  "priority out of bounds",
			entry: "  - domain: adapter\n    key: cache\n    provider: p\n    priority: 5000\n",
		},
		{
			name:  "stack level out of bounds",
			entry: "  - domain: adapter\n    key: cache\n    provider: p\n    stack_level: 500\n",
		},
		{
			name:  "uri traversal",
			entry: "  - domain: adapter\n    key: cache\n    provider: p\n    uri: https://x/../secret\n    sha256: " + digestOf([]byte("x")) + "\n",
		},
		{
			name:  "uri without digest",
			entry: "  - domain: adapter\n    key: cache\n    provider: p\n    uri: https://artifacts.invalid/blob\n",
		},
		{
			name:  "blocked factory module",
			entry: "  - domain: adapter\n    key: cache\n    provider: p\n    factory: subprocess:Popen\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := signManifest(t, priv, "source: test\nentries:\n"+tt.entry)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
			loader, err := NewLoader(LoaderOptions{
				Source:   srv.URL,
				Registry: reg,
				Trust:    trust,
				Fetcher:  NewSchemeFetcher(),
			})
			require.NoError(t, err)

			cands, err := loader.Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, cands)
		})
	}
}

func TestLoaderOfflineDegradation(t *testing.T) {
	trust, priv := newTrust(t)
	body := signManifest(t, priv, `source: test
entries:
  - domain: adapter
    key: cache
    provider: redis
`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
	loader, err := NewLoader(LoaderOptions{
		Source:   srv.URL,
		Registry: reg,
		Trust:    trust,
		Store:    store,
		Fetcher:  NewSchemeFetcher(),
	})
	require.NoError(t, err)

	// First load succeeds and caches the verified manifest.
	cands, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)

	// The source goes away; the loader degrades to the cached copy.
	srv.Close()
	reg.Clear()

	cands, err = loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "redis", cands[0].Provider)
}

func TestLoaderOfflineNoCachedCopy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately unreachable

	reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
	loader, err := NewLoader(LoaderOptions{
		Source:   srv.URL,
		Registry: reg,
		Fetcher:  NewSchemeFetcher(),
	})
	require.NoError(t, err)

	_, err = loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrManifestFetch))
}
