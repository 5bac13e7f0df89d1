/*
Package manifest turns signed remote documents into registered candidates.

# Pipeline

	┌────────────────── MANIFEST LOADER ──────────────────┐
	│                                                      │
	│  fetch ──► canonicalize ──► verify signature         │
	│    │            (sorted keys, compact bytes)         │
	│    │                                                 │
	│    ├─ http(s) / s3 / gs / oci, each behind          │
	│    │  bounded retries and a per-source breaker       │
	│    │                                                 │
	│  validate entries ──► stage artifacts ──► register   │
	│    (grammar, bounds,    (content-addressed           │
	│     traversal, factory   cache, digest-verified)     │
	│     block-list)                                      │
	└──────────────────────────────────────────────────────┘

# Trust model

The manifest signature is a detached Ed25519 signature over the canonical
byte form: mapping keys sorted lexicographically at every level, compact
UTF-8, with the signature and signer fields removed. Any key in the trust
set suffices; an unsigned manifest is refused whenever the trust set is
non-empty.

Artifacts are cached under filenames derived solely from their sha256
digest. A mismatched digest deletes the download and rejects the entry, so
a candidate whose verification failed can never be registered, let alone
activated.

# Offline degradation

When the fetch fails, the last successfully verified manifest is replayed
from the durable store, but only after its signature is re-checked against
the current trust set. Without a usable cached copy the loader yields
nothing and the registry keeps its prior state.
*/
package manifest
