package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/lifecycle"
	"github.com/cuemby/switchyard/pkg/log"
	"github.com/cuemby/switchyard/pkg/metrics"
	"github.com/cuemby/switchyard/pkg/types"
)

const (
	defaultQueueSize  = 128
	defaultWorkers    = 4
	defaultRetryDelay = 2 * time.Second
)

// Queue is the bounded swap-request queue feeding the orchestrator. Enqueue
// never blocks the watchers: when the queue is full the request is dropped
// and the next watcher pass re-detects the change.
type Queue struct {
	ch     chan types.SwapRequest
	logger zerolog.Logger
}

// NewQueue creates a bounded queue. size <= 0 selects the default.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		ch:     make(chan types.SwapRequest, size),
		logger: log.WithComponent("watcher.queue"),
	}
}

// Enqueue offers a request without blocking.
func (q *Queue) Enqueue(req types.SwapRequest) bool {
	select {
	case q.ch <- req:
		metrics.SwapQueueDepth.Inc()
		return true
	default:
		q.logger.Warn().
			Str("domain", string(req.Domain)).
			Str("key", req.Key).
			Msg("swap queue full, dropping request")
		return false
	}
}

// Len returns the number of waiting requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Orchestrator consumes swap requests and executes them against the
// lifecycle manager. Swaps for distinct keys run in parallel up to the
// worker limit; the manager's per-key mutex serializes same-key swaps, and
// a request that loses that race is requeued rather than dropped.
type Orchestrator struct {
	manager    *lifecycle.Manager
	queue      *Queue
	workers    int
	retryDelay time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	Manager    *lifecycle.Manager
	Queue      *Queue
	Workers    int
	RetryDelay time.Duration
}

// NewOrchestrator wires the orchestrator to its queue and manager.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Orchestrator{
		manager:    opts.Manager,
		queue:      opts.Queue,
		workers:    opts.Workers,
		retryDelay: opts.RetryDelay,
		logger:     log.WithComponent("orchestrator"),
		timers:     make(map[*time.Timer]struct{}),
	}
}

// Run consumes the queue until ctx is cancelled, then waits for in-flight
// swaps to reach a stable state (committed or rolled back) and cleans up
// every live instance.
func (o *Orchestrator) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for {
		select {
		case <-ctx.Done():
			o.shutdown(g)
			return
		case req := <-o.queue.ch:
			metrics.SwapQueueDepth.Dec()
			r := req
			g.Go(func() error {
				o.execute(gctx, r)
				return nil
			})
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, req types.SwapRequest) {
	ref := types.Ref{Domain: req.Domain, Key: req.Key}

	// Paused or draining targets wait for the operator, not for us.
	if o.manager.Blocked(ref) {
		metrics.SwapsDeferred.Inc()
		o.logger.Info().
			Str("domain", string(req.Domain)).
			Str("key", req.Key).
			Msg("target paused or draining, deferring swap")
		o.requeueLater(req)
		return
	}

	_, err := o.manager.Swap(ctx, req.Domain, req.Key, lifecycle.SwapOptions{
		Provider: req.Provider,
		Force:    req.Force,
	})
	switch {
	case err == nil:
	case errors.Is(err, errdefs.ErrSwapInProgress):
		o.requeueLater(req)
	case ctx.Err() != nil:
		// Shutdown raced the swap; the rollback already ran.
	default:
		o.logger.Error().Err(err).
			Str("domain", string(req.Domain)).
			Str("key", req.Key).
			Str("reason", req.Reason).
			Msg("swap failed")
	}
}

// requeueLater re-offers a deferred request after the retry delay.
func (o *Orchestrator) requeueLater(req types.SwapRequest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(o.retryDelay, func() {
		o.mu.Lock()
		delete(o.timers, timer)
		stopped := o.stopped
		o.mu.Unlock()
		if !stopped {
			o.queue.Enqueue(req)
		}
	})
	o.timers[timer] = struct{}{}
}

// shutdown waits for in-flight swaps, cancels deferred retries, then runs
// the cleanup-all hook with a fresh context so teardown is not already
// cancelled.
func (o *Orchestrator) shutdown(g *errgroup.Group) {
	o.mu.Lock()
	o.stopped = true
	for t := range o.timers {
		t.Stop()
	}
	o.timers = make(map[*time.Timer]struct{})
	o.mu.Unlock()

	// Discard whatever is still queued; a future start re-detects the state.
	for {
		select {
		case <-o.queue.ch:
			metrics.SwapQueueDepth.Dec()
			continue
		default:
		}
		break
	}

	_ = g.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	o.manager.CleanupAll(ctx)
	o.logger.Info().Msg("orchestrator stopped")
}
