package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/registry"
	"github.com/cuemby/switchyard/pkg/security"
	"github.com/cuemby/switchyard/pkg/storage"
	"github.com/cuemby/switchyard/pkg/types"
)

// testInstance implements every optional hook and counts invocations.
type testInstance struct {
	mu           sync.Mutex
	name         string
	healthy      bool
	initErr      error
	initDelay    time.Duration
	initCalls    int
	cleanupCalls int
	pauseCalls   int
	resumeCalls  int
	drainCalls   int
}

func (i *testInstance) Init(ctx context.Context) error {
	i.mu.Lock()
	i.initCalls++
	delay := i.initDelay
	err := i.initErr
	i.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (i *testInstance) Healthy(ctx context.Context) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.healthy, nil
}

func (i *testInstance) Cleanup(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cleanupCalls++
	return nil
}

func (i *testInstance) Pause(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pauseCalls++
	return nil
}

func (i *testInstance) Resume(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.resumeCalls++
	return nil
}

func (i *testInstance) Drain(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.drainCalls++
	return nil
}

func (i *testInstance) cleanups() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cleanupCalls
}

type testEnv struct {
	registry *registry.Registry
	table    *registry.FactoryTable
	manager  *Manager
}

func newTestEnv(t *testing.T, store storage.Store) *testEnv {
	t.Helper()
	reg := registry.New(security.NewFactoryPolicy(nil, false), nil)
	table := registry.NewFactoryTable()
	mgr, err := NewManager(Options{
		Registry:  reg,
		Factories: table,
		Store:     store,
		Timeouts: Timeouts{
			Init:    2 * time.Second,
			Health:  time.Second,
			Cleanup: time.Second,
		},
	})
	require.NoError(t, err)
	return &testEnv{registry: reg, table: table, manager: mgr}
}

// install registers a candidate plus a factory handing out inst.
func (e *testEnv) install(t *testing.T, provider string, priority int, inst *testInstance) {
	t.Helper()
	ref := "ext.test." + provider + ":New"
	require.NoError(t, e.table.Add(ref, func(ctx context.Context, c *types.Candidate) (interface{}, error) {
		return inst, nil
	}))
	require.NoError(t, e.registry.Register(&types.Candidate{
		Domain:   types.DomainAdapter,
		Key:      "cache",
		Provider: provider,
		Priority: priority,
		Factory:  ref,
		Source:   types.SourceLocalPkg,
	}))
}

func TestActivate(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := &testInstance{name: "a", healthy: true}
	env.install(t, "a", 10, inst)

	obj, err := env.manager.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)
	assert.Same(t, inst, obj)
	assert.Equal(t, 1, inst.initCalls)

	// Second activate returns the bound instance without another init.
	again, err := env.manager.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)
	assert.Same(t, inst, again)
	assert.Equal(t, 1, inst.initCalls)
}

func TestActivateNoCandidate(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.manager.Activate(context.Background(), types.DomainAdapter, "cache")
	assert.True(t, errors.Is(err, errdefs.ErrLifecycle))
}

func TestActivateInitFailureDoesNotBind(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := &testInstance{name: "a", healthy: true, initErr: errors.New("boom")}
	env.install(t, "a", 10, inst)

	_, err := env.manager.Activate(context.Background(), types.DomainAdapter, "cache")
	assert.True(t, errors.Is(err, errdefs.ErrLifecycle))
	assert.Nil(t, env.manager.Instance(types.DomainAdapter, "cache"))
}

func TestActivateInitTimeout(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := &testInstance{name: "slow", healthy: true, initDelay: 5 * time.Second}
	env.install(t, "slow", 10, inst)

	_, err := env.manager.Activate(context.Background(), types.DomainAdapter, "cache")
	assert.True(t, errors.Is(err, errdefs.ErrLifecycle))
}

func TestActivateMissingFactory(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.registry.Register(&types.Candidate{
		Domain:   types.DomainAdapter,
		Key:      "cache",
		Provider: "ghost",
		Factory:  "ext.ghost:New",
		Source:   types.SourceLocalPkg,
	}))

	_, err := env.manager.Activate(context.Background(), types.DomainAdapter, "cache")
	assert.True(t, errors.Is(err, errdefs.ErrLifecycle))
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := &testInstance{name: "a", healthy: true}
	env.install(t, "a", 10, inst)

	_, err := env.manager.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)

	require.NoError(t, env.manager.Cleanup(context.Background(), types.DomainAdapter, "cache"))
	assert.Equal(t, 1, inst.cleanups())
	assert.Nil(t, env.manager.Instance(types.DomainAdapter, "cache"))

	// Cleanup of an unbound key is a no-op.
	require.NoError(t, env.manager.Cleanup(context.Background(), types.DomainAdapter, "cache"))
}

func TestCleanupAllReverseOrder(t *testing.T) {
	env := newTestEnv(t, nil)

	var order []string
	var mu sync.Mutex
	mk := func(name string) *orderedInstance {
		return &orderedInstance{name: name, order: &order, mu: &mu}
	}

	for i, key := range []string{"first", "second", "third"} {
		ref := "ext.ordered." + key + ":New"
		inst := mk(key)
		require.NoError(t, env.table.Add(ref, func(ctx context.Context, c *types.Candidate) (interface{}, error) {
			return inst, nil
		}))
		require.NoError(t, env.registry.Register(&types.Candidate{
			Domain:   types.DomainService,
			Key:      key,
			Provider: "p",
			Priority: i,
			Factory:  ref,
			Source:   types.SourceLocalPkg,
		}))
		_, err := env.manager.Activate(context.Background(), types.DomainService, key)
		require.NoError(t, err)
	}

	env.manager.CleanupAll(context.Background())
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

type orderedInstance struct {
	name  string
	order *[]string
	mu    *sync.Mutex
}

func (o *orderedInstance) Cleanup(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o.order = append(*o.order, o.name)
	return nil
}

func TestHealthProbeAndCache(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := &testInstance{name: "a", healthy: true}
	env.install(t, "a", 10, inst)

	_, err := env.manager.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)

	statuses := env.manager.Health(context.Background(), true)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Healthy)

	// Flip the hook; the cached verdict is served until the next probe.
	inst.mu.Lock()
	inst.healthy = false
	inst.mu.Unlock()

	cached := env.manager.Health(context.Background(), false)
	require.Len(t, cached, 1)
	assert.True(t, cached[0].Healthy)

	probed := env.manager.Health(context.Background(), true)
	require.Len(t, probed, 1)
	assert.False(t, probed[0].Healthy)
}

// Health snapshots run concurrently with pause/drain transitions; both touch
// instance state, so this test is primarily a race-detector target.
func TestHealthConcurrentWithActivity(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := &testInstance{name: "a", healthy: true}
	env.install(t, "a", 10, inst)

	ctx := context.Background()
	_, err := env.manager.Activate(ctx, types.DomainAdapter, "cache")
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				env.manager.Health(ctx, false)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, env.manager.Pause(ctx, types.DomainAdapter, "cache", ""))
		require.NoError(t, env.manager.Resume(ctx, types.DomainAdapter, "cache"))
		require.NoError(t, env.manager.Drain(ctx, types.DomainAdapter, "cache", ""))
		require.NoError(t, env.manager.Undrain(ctx, types.DomainAdapter, "cache"))
	}
	close(stop)
	wg.Wait()

	statuses := env.manager.Health(ctx, false)
	require.Len(t, statuses, 1)
	assert.Equal(t, types.StateReady, statuses[0].State)
}

func TestPauseResumePersistence(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)

	env := newTestEnv(t, store)
	inst := &testInstance{name: "a", healthy: true}
	env.install(t, "a", 10, inst)

	_, err = env.manager.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)

	require.NoError(t, env.manager.Pause(context.Background(), types.DomainAdapter, "cache", "maintenance"))
	assert.Equal(t, 1, inst.pauseCalls)
	rec := env.manager.Activity(types.DomainAdapter, "cache")
	require.NotNil(t, rec)
	assert.True(t, rec.Paused)
	assert.Equal(t, "maintenance", rec.Note)
	assert.True(t, env.manager.Blocked(types.Ref{Domain: types.DomainAdapter, Key: "cache"}))

	// Simulated restart: a fresh manager over the same store sees the pause.
	require.NoError(t, store.Close())
	store, err = storage.NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	env2 := newTestEnv(t, store)
	rec = env2.manager.Activity(types.DomainAdapter, "cache")
	require.NotNil(t, rec)
	assert.True(t, rec.Paused)

	// Resume clears the record back to absent.
	require.NoError(t, env2.manager.Resume(context.Background(), types.DomainAdapter, "cache"))
	assert.Nil(t, env2.manager.Activity(types.DomainAdapter, "cache"))
	got, err := store.GetActivity(types.DomainAdapter, "cache")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDrainUndrain(t *testing.T) {
	env := newTestEnv(t, nil)
	inst := &testInstance{name: "a", healthy: true}
	env.install(t, "a", 10, inst)

	_, err := env.manager.Activate(context.Background(), types.DomainAdapter, "cache")
	require.NoError(t, err)

	require.NoError(t, env.manager.Drain(context.Background(), types.DomainAdapter, "cache", "rollout"))
	assert.Equal(t, 1, inst.drainCalls)
	assert.True(t, env.manager.Blocked(types.Ref{Domain: types.DomainAdapter, Key: "cache"}))

	require.NoError(t, env.manager.Undrain(context.Background(), types.DomainAdapter, "cache"))
	assert.False(t, env.manager.Blocked(types.Ref{Domain: types.DomainAdapter, Key: "cache"}))
	assert.Nil(t, env.manager.Activity(types.DomainAdapter, "cache"))
}
