package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/switchyard/pkg/log"
	"github.com/cuemby/switchyard/pkg/manifest"
	"github.com/cuemby/switchyard/pkg/types"
)

const defaultPollInterval = 5 * time.Minute

// RemoteWatcher periodically re-runs the manifest pipeline and enqueues a
// swap for every plug point whose candidate set changed.
type RemoteWatcher struct {
	loader   *manifest.Loader
	queue    *Queue
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	last    map[types.Ref]string
	stopCh  chan struct{}
	running bool
}

// NewRemoteWatcher polls one manifest source on a fixed interval.
func NewRemoteWatcher(loader *manifest.Loader, queue *Queue, interval time.Duration) *RemoteWatcher {
	if interval == 0 {
		interval = defaultPollInterval
	}
	return &RemoteWatcher{
		loader:   loader,
		queue:    queue,
		interval: interval,
		logger:   log.WithComponent("watcher.remote"),
		last:     make(map[types.Ref]string),
		stopCh:   make(chan struct{}),
	}
}

// Start runs one immediate poll to seed the baseline, then polls on the
// interval. The seeding poll registers candidates but enqueues no swaps.
func (r *RemoteWatcher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.poll(ctx, false)
	go r.run(ctx)
	return nil
}

// Stop halts polling. In-flight fetches abort via the run context.
func (r *RemoteWatcher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
}

func (r *RemoteWatcher) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.poll(ctx, true)
		}
	}
}

// poll runs the pipeline and diffs the per-ref fingerprints against the last
// poll. A fetch failure leaves the baseline untouched: the registry keeps
// its prior state and no swaps fire.
func (r *RemoteWatcher) poll(ctx context.Context, enqueue bool) {
	cands, err := r.loader.Load(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("remote manifest poll failed")
		return
	}

	current := make(map[types.Ref]string, len(cands))
	for _, c := range cands {
		current[c.Ref()] = c.Identity() + "@" + c.Version
	}

	r.mu.Lock()
	prev := r.last
	r.last = current
	r.mu.Unlock()

	if !enqueue {
		return
	}

	for ref, fp := range current {
		if prev[ref] != fp {
			r.logger.Info().
				Str("domain", string(ref.Domain)).
				Str("key", ref.Key).
				Msg("remote candidate changed, requesting swap")
			r.queue.Enqueue(types.SwapRequest{
				Domain: ref.Domain,
				Key:    ref.Key,
				Reason: "remote manifest change",
			})
		}
	}
	for ref := range prev {
		if _, ok := current[ref]; !ok {
			r.queue.Enqueue(types.SwapRequest{
				Domain: ref.Domain,
				Key:    ref.Key,
				Reason: "remote candidate withdrawn",
			})
		}
	}
}
