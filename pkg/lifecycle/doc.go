/*
Package lifecycle owns Switchyard's live instances: it converts resolved
candidates into running instances and performs atomic, health-checked hot
swaps with rollback.

# Architecture

	┌──────────────────── LIFECYCLE MANAGER ────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Per-key state                      │          │
	│  │  (domain, key) → live instance + mutex      │          │
	│  │  - activate/swap/pause/... serialize        │          │
	│  │  - swap try-locks: busy key → SwapInProgress│          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Swap pipeline                      │          │
	│  │  re-resolve → construct → init (timeout)    │          │
	│  │  → health (timeout) → pre-swap event        │          │
	│  │  → flip pointer → cleanup old → post-swap   │          │
	│  │  rollback before the flip, never after      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Activity store                     │          │
	│  │  paused/draining flags, write-through to    │          │
	│  │  bbolt; reloaded on startup                 │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Instance contract

Factories return opaque objects. Hooks are optional interfaces (Initializer,
HealthChecker, Cleaner, Pauser, Drainer); a missing hook is a no-op, except
health, which defaults to ready. Every hook runs under its own bounded
timeout; a timeout is a failure of that step.

# Swap invariants

The old instance's cleanup never runs before the new instance is bound, and
a rolled-back swap leaves operator-visible state exactly as it was: the old
instance stays bound and untouched, the new instance is destroyed. Cleanup
failures after the flip are logged but never fail the swap. Cancellation
before the flip rolls back; after the flip the swap has committed.
*/
package lifecycle
