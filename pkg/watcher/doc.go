/*
Package watcher closes the control loop: external change events become swap
requests, and swap requests become executed swaps.

	override files ──fsnotify──► LocalWatcher ──┐
	                                            ├──► Queue ──► Orchestrator ──► lifecycle.Swap
	manifest source ──ticker───► RemoteWatcher ─┘

The local watcher re-parses override files on change (debounced), installs
the new table in the registry, and enqueues a swap per changed plug point.
The remote watcher re-runs the manifest pipeline on an interval and diffs
the resulting candidate set against the previous poll.

The orchestrator runs swaps for distinct keys in parallel up to a worker
limit; same-key swaps serialize on the lifecycle manager's per-key mutex.
Requests whose target is paused or draining are deferred and retried, not
dropped. On shutdown the queue is discarded, in-flight swaps settle, and
every live instance is cleaned up.
*/
package watcher
