package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/cuemby/switchyard/pkg/config"
	"github.com/cuemby/switchyard/pkg/log"
	"github.com/cuemby/switchyard/pkg/registry"
	"github.com/cuemby/switchyard/pkg/types"
)

const defaultDebounce = 500 * time.Millisecond

// LocalWatcher observes override files and turns edits into swap requests.
// On change it re-parses the file, installs the new table in the registry,
// diffs against the previous table, and enqueues one swap per changed key.
type LocalWatcher struct {
	mu sync.Mutex

	paths    []string
	targets  map[string]struct{}
	registry *registry.Registry
	queue    *Queue
	debounce time.Duration
	logger   zerolog.Logger

	watcher *fsnotify.Watcher
	last    config.OverrideTable
	pending map[string]*time.Timer
	stopCh  chan struct{}
	running bool
}

// NewLocalWatcher watches one or more override files.
func NewLocalWatcher(paths []string, reg *registry.Registry, queue *Queue, debounce time.Duration) *LocalWatcher {
	if debounce == 0 {
		debounce = defaultDebounce
	}
	targets := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		targets[filepath.Clean(p)] = struct{}{}
	}
	return &LocalWatcher{
		paths:    paths,
		targets:  targets,
		registry: reg,
		queue:    queue,
		debounce: debounce,
		logger:   log.WithComponent("watcher.local"),
		last:     config.OverrideTable{},
		pending:  make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
	}
}

// Start loads the current override state and begins watching. The initial
// load installs the table but enqueues no swaps: only subsequent edits are
// change events.
func (w *LocalWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	table := w.loadAll()
	w.registry.SetOverrides(table)
	w.mu.Lock()
	w.last = table
	w.mu.Unlock()

	// Watch parent directories, not the files: editors save by renaming a
	// temp file over the target, which replaces the inode and would drop a
	// direct file watch. Events are filtered back to the override paths.
	dirs := make(map[string]struct{}, len(w.paths))
	for _, p := range w.paths {
		dirs[filepath.Dir(filepath.Clean(p))] = struct{}{}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("dir", dir).Msg("failed to watch override directory")
		}
	}

	go w.run(ctx)
	w.logger.Info().Strs("paths", w.paths).Msg("watching override files")
	return nil
}

// Stop closes the watcher and cancels pending debounce timers.
func (w *LocalWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
}

func (w *LocalWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if _, ok := w.targets[filepath.Clean(event.Name)]; !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.debounceReload(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("override watcher error")
		}
	}
}

// debounceReload coalesces the burst of events an editor save produces.
func (w *LocalWatcher) debounceReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.Reload()
	})
}

// Reload re-parses every override file, installs the merged table, and
// enqueues a swap for each changed plug point.
func (w *LocalWatcher) Reload() {
	table := w.loadAll()

	w.mu.Lock()
	changed := w.last.Diff(table)
	w.last = table
	w.mu.Unlock()

	w.registry.SetOverrides(table)

	for _, ref := range changed {
		w.logger.Info().
			Str("domain", string(ref.Domain)).
			Str("key", ref.Key).
			Msg("override changed, requesting swap")
		w.queue.Enqueue(types.SwapRequest{
			Domain: ref.Domain,
			Key:    ref.Key,
			Reason: "override change",
		})
	}
}

// loadAll merges every override file in order; later files win on conflict.
// A missing file contributes nothing; a malformed file keeps the previous
// table for safety.
func (w *LocalWatcher) loadAll() config.OverrideTable {
	merged := config.OverrideTable{}
	for _, p := range w.paths {
		table, err := config.LoadOverrides(p)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", p).Msg("failed to load override file, keeping previous table")
			w.mu.Lock()
			prev := w.last
			w.mu.Unlock()
			return prev
		}
		for domain, keys := range table {
			if merged[domain] == nil {
				merged[domain] = make(map[string]string, len(keys))
			}
			for k, v := range keys {
				merged[domain][k] = v
			}
		}
	}
	return merged
}
