package manifest

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/events"
	"github.com/cuemby/switchyard/pkg/log"
	"github.com/cuemby/switchyard/pkg/metrics"
	"github.com/cuemby/switchyard/pkg/registry"
	"github.com/cuemby/switchyard/pkg/security"
	"github.com/cuemby/switchyard/pkg/storage"
	"github.com/cuemby/switchyard/pkg/types"
)

// Loader runs the full manifest pipeline for one source: fetch,
// canonicalize, verify, validate, stage artifacts, register candidates.
// Each load owns the source's candidate set: entries that disappeared since
// the previous load are unregistered.
type Loader struct {
	source   string
	registry *registry.Registry
	cache    *ArtifactCache
	trust    *security.TrustSet
	policy   *security.FactoryPolicy
	store    storage.Store
	broker   *events.Broker
	fetcher  Fetcher
	logger   zerolog.Logger

	mu         sync.Mutex
	profile    Profile
	registered map[string]*types.Candidate
}

// LoaderOptions configures a Loader. Source and Registry are required.
type LoaderOptions struct {
	Source   string
	Registry *registry.Registry
	Cache    *ArtifactCache
	Trust    *security.TrustSet
	Policy   *security.FactoryPolicy
	Store    storage.Store
	Broker   *events.Broker
	Fetcher  Fetcher
}

// NewLoader creates a loader for one manifest source.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Source == "" {
		return nil, fmt.Errorf("manifest loader requires a source URI")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("manifest loader requires a registry")
	}
	if opts.Trust == nil {
		opts.Trust, _ = security.NewTrustSet(nil)
	}
	if opts.Policy == nil {
		opts.Policy = security.NewFactoryPolicy(nil, false)
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewGuardedFetcher(opts.Source, NewSchemeFetcher())
	}
	return &Loader{
		source:     opts.Source,
		registry:   opts.Registry,
		cache:      opts.Cache,
		trust:      opts.Trust,
		policy:     opts.Policy,
		store:      opts.Store,
		broker:     opts.Broker,
		fetcher:    opts.Fetcher,
		logger:     log.WithComponent("manifest"),
		registered: make(map[string]*types.Candidate),
	}, nil
}

// Load fetches the manifest from the source and runs the pipeline. When the
// fetch fails the loader degrades to the last verified cached copy, provided
// its signature still verifies against the current trust set; with no usable
// cached copy it yields no candidates and the registry keeps its prior
// state.
func (l *Loader) Load(ctx context.Context) ([]*types.Candidate, error) {
	raw, err := l.fetcher.Fetch(ctx, l.source)
	if err != nil {
		metrics.ManifestFetchesTotal.WithLabelValues(l.source, "error").Inc()
		l.logger.Warn().Err(err).Str("source", l.source).Msg("manifest fetch failed, trying cached copy")
		cached := l.cachedCopy()
		if cached == nil {
			return nil, fmt.Errorf("%w: fetch failed and no usable cached manifest: %v",
				errdefs.ErrManifestFetch, err)
		}
		metrics.ManifestFetchesTotal.WithLabelValues(l.source, "cached").Inc()
		return l.process(ctx, cached.Raw, false)
	}

	metrics.ManifestFetchesTotal.WithLabelValues(l.source, "ok").Inc()
	return l.process(ctx, raw, true)
}

// LoadBytes runs the pipeline over manifest bytes delivered out of band
// (the inline profile). Signature verification still applies.
func (l *Loader) LoadBytes(ctx context.Context, raw []byte) ([]*types.Candidate, error) {
	return l.process(ctx, raw, false)
}

// Profile returns the profile from the most recently processed manifest.
// Callers use it to honor toggles such as disable_watchers.
func (l *Loader) Profile() Profile {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profile
}

// cachedCopy returns the stored manifest only if its signature still
// verifies against the current trust set. Keys rotated out of the trust set
// invalidate old cached copies.
func (l *Loader) cachedCopy() *storage.CachedManifest {
	if l.store == nil {
		return nil
	}
	cached, err := l.store.GetManifest(l.source)
	if err != nil || cached == nil {
		return nil
	}
	canonical, err := Canonical(cached.Raw)
	if err != nil {
		return nil
	}
	if err := l.trust.Verify(canonical, cached.Signature); err != nil {
		l.logger.Warn().Err(err).Str("source", l.source).
			Msg("cached manifest no longer verifies, discarding")
		_ = l.store.DeleteManifest(l.source)
		return nil
	}
	return cached
}

func (l *Loader) process(ctx context.Context, raw []byte, cacheOnSuccess bool) ([]*types.Candidate, error) {
	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}

	canonical, err := Canonical(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrManifestFetch, err)
	}
	sig, err := m.DecodeSignature()
	if err != nil {
		l.integrityViolation(nil, err)
		return nil, err
	}
	if err := l.trust.Verify(canonical, sig); err != nil {
		l.integrityViolation(nil, err)
		return nil, err
	}

	// Profile toggles only take effect once the document has verified.
	l.mu.Lock()
	l.profile = m.Profile
	l.mu.Unlock()

	// Zero entries is a valid manifest, not an error.
	var registered []*types.Candidate
	for i := range m.Entries {
		entry := &m.Entries[i]
		cand, err := l.admit(ctx, entry, m.Profile.Inline)
		if err != nil {
			l.logger.Warn().Err(err).
				Str("source", l.source).
				Str("domain", string(entry.Domain)).
				Str("key", entry.Key).
				Str("provider", entry.Provider).
				Msg("manifest entry rejected")
			continue
		}
		if err := l.registry.Register(cand); err != nil {
			metrics.ManifestEntriesRejected.WithLabelValues("registry").Inc()
			l.logger.Warn().Err(err).Str("key", entry.Key).Msg("registry refused manifest candidate")
			continue
		}
		registered = append(registered, cand)
	}

	l.withdrawMissing(registered)

	if cacheOnSuccess && l.store != nil {
		err := l.store.PutManifest(&storage.CachedManifest{
			Source:    l.source,
			Raw:       raw,
			Signature: sig,
			FetchedAt: time.Now().UTC(),
		})
		if err != nil {
			l.logger.Warn().Err(err).Str("source", l.source).Msg("failed to cache verified manifest")
		}
	}

	l.logger.Info().
		Str("source", l.source).
		Int("entries", len(m.Entries)).
		Int("registered", len(registered)).
		Msg("manifest processed")
	return registered, nil
}

// withdrawMissing unregisters candidates this loader registered on a prior
// load that the source no longer carries. A candidate the source withdrew
// must stop competing for its plug point; the subsequent swap re-resolves
// without it.
func (l *Loader) withdrawMissing(registered []*types.Candidate) {
	current := make(map[string]*types.Candidate, len(registered))
	for _, c := range registered {
		current[c.Identity()] = c
	}

	l.mu.Lock()
	prev := l.registered
	l.registered = current
	l.mu.Unlock()

	for id, c := range prev {
		if _, ok := current[id]; ok {
			continue
		}
		l.registry.Unregister(c.Domain, c.Key, c.Provider, c.Source)
		l.logger.Info().
			Str("source", l.source).
			Str("domain", string(c.Domain)).
			Str("key", c.Key).
			Str("provider", c.Provider).
			Msg("remote candidate withdrawn")
	}
}

// admit validates one entry and stages its artifact, returning the candidate
// to register. Inline manifests select among already-installed factories, so
// their entries skip artifact staging. Rejection reasons feed the
// entries-rejected metric.
func (l *Loader) admit(ctx context.Context, e *Entry, inline bool) (*types.Candidate, error) {
	if !e.Domain.Valid() {
		metrics.ManifestEntriesRejected.WithLabelValues("domain").Inc()
		return nil, errdefs.InvalidIdentity("invalid domain %q", e.Domain)
	}
	if !types.ValidKey(e.Key) {
		metrics.ManifestEntriesRejected.WithLabelValues("grammar").Inc()
		return nil, errdefs.InvalidIdentity("invalid key %q", e.Key)
	}
	if !types.ValidKey(e.Provider) {
		metrics.ManifestEntriesRejected.WithLabelValues("grammar").Inc()
		return nil, errdefs.InvalidIdentity("invalid provider %q", e.Provider)
	}

	priority := types.PriorityUnset
	if e.Priority != nil {
		if !types.ValidPriority(*e.Priority) {
			metrics.ManifestEntriesRejected.WithLabelValues("bounds").Inc()
			return nil, errdefs.InvalidIdentity("priority %d out of bounds", *e.Priority)
		}
		priority = *e.Priority
	}
	stackLevel := types.StackLevelUnset
	if e.StackLevel != nil {
		if !types.ValidStackLevel(*e.StackLevel) {
			metrics.ManifestEntriesRejected.WithLabelValues("bounds").Inc()
			return nil, errdefs.InvalidIdentity("stack_level %d out of bounds", *e.StackLevel)
		}
		stackLevel = *e.StackLevel
	}

	if e.URI != "" && strings.Contains(e.URI, "..") {
		metrics.ManifestEntriesRejected.WithLabelValues("traversal").Inc()
		err := fmt.Errorf("%w: uri %q contains a traversal sequence", errdefs.ErrIntegrity, e.URI)
		l.integrityViolation(e, err)
		return nil, err
	}
	// A remote artifact without a digest can never be verified, so the entry
	// must not register at all.
	if e.URI != "" && e.SHA256 == "" && !inline {
		metrics.ManifestEntriesRejected.WithLabelValues("digest").Inc()
		return nil, fmt.Errorf("%w: entry carries a uri but no sha256 digest", errdefs.ErrIntegrity)
	}

	if e.Factory != "" {
		if err := l.policy.CheckFactory(e.Factory); err != nil {
			metrics.ManifestEntriesRejected.WithLabelValues("factory").Inc()
			return nil, err
		}
	}

	cand := &types.Candidate{
		Domain:       e.Domain,
		Key:          e.Key,
		Provider:     e.Provider,
		Priority:     priority,
		StackLevel:   stackLevel,
		Factory:      e.Factory,
		Capabilities: e.Capabilities,
		Version:      e.Version,
		Source:       types.SourceRemoteManifest,
	}

	if e.URI != "" && e.SHA256 != "" && !inline {
		path, err := l.stageArtifact(ctx, e)
		if err != nil {
			return nil, err
		}
		cand.Metadata = map[string]string{
			"artifact_path":   path,
			"artifact_sha256": strings.ToLower(e.SHA256),
			"artifact_uri":    e.URI,
		}
	}

	return cand, nil
}

// stageArtifact downloads the entry's bytes into the content-addressed cache
// and verifies the digest. A candidate whose digest verification failed is
// never registered, so it can never be activated.
func (l *Loader) stageArtifact(ctx context.Context, e *Entry) (string, error) {
	if l.cache == nil {
		metrics.ManifestEntriesRejected.WithLabelValues("no_cache").Inc()
		return "", fmt.Errorf("%w: entry ships an artifact but no cache is configured", errdefs.ErrIntegrity)
	}
	if l.cache.Has(e.SHA256) {
		p, err := l.cache.Path(e.SHA256)
		if err == nil {
			return p, nil
		}
	}

	data, err := l.fetcher.Fetch(ctx, e.URI)
	if err != nil {
		metrics.ArtifactDownloadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: artifact download failed: %v", errdefs.ErrManifestFetch, err)
	}

	// Entries may carry their own detached signature over the artifact bytes.
	if e.Signature != "" {
		sig, err := base64.StdEncoding.DecodeString(e.Signature)
		if err != nil {
			metrics.ManifestEntriesRejected.WithLabelValues("signature").Inc()
			return "", fmt.Errorf("%w: malformed entry signature: %v", errdefs.ErrIntegrity, err)
		}
		if err := l.trust.Verify(data, sig); err != nil {
			metrics.ManifestEntriesRejected.WithLabelValues("signature").Inc()
			l.integrityViolation(e, err)
			return "", err
		}
	}

	path, err := l.cache.Put(e.SHA256, data)
	if err != nil {
		metrics.ArtifactDownloadsTotal.WithLabelValues("integrity_error").Inc()
		metrics.ManifestEntriesRejected.WithLabelValues("digest").Inc()
		l.integrityViolation(e, err)
		return "", err
	}
	metrics.ArtifactDownloadsTotal.WithLabelValues("ok").Inc()
	return path, nil
}

func (l *Loader) integrityViolation(e *Entry, err error) {
	if l.broker == nil {
		return
	}
	cand := &types.Candidate{Source: types.SourceRemoteManifest}
	if e != nil {
		cand.Domain = e.Domain
		cand.Key = e.Key
		cand.Provider = e.Provider
	}
	l.broker.Emit(events.EventIntegrityViolation, cand, "manifest integrity violation", map[string]string{
		"source": l.source,
		"error":  err.Error(),
	})
}
