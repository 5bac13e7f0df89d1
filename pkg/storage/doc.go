/*
Package storage provides BoltDB-backed persistence for Switchyard's durable
state: activity records and cached remote manifests.

The storage package implements the Store interface using BoltDB (bbolt) as
the underlying database. All data is serialized as JSON and stored in
separate buckets:

	meta        schema_version (fixed key)
	activities  pause/drain records, keyed by "<domain>/<key>"
	manifests   last verified manifest per source label

# Durability

Activity records are written through on every pause/resume/drain transition,
so an operator's pause survives a process restart: the lifecycle manager
reloads the records on startup and the orchestrator defers swaps for paused
or draining plug points.

Cached manifests support offline degradation: when a remote fetch fails, the
loader falls back to the last cached copy, re-verifying its signature against
the current trust set before trusting it.

# Schema versioning

The meta bucket carries a schema version. Databases written by a newer
Switchyard are refused on open. Records are JSON, so fields added by later
minor versions are ignored by older readers and absent fields decode to zero
values.

Transactions follow BoltDB's model: db.View for concurrent reads, db.Update
for serialized writes with automatic rollback on error.
*/
package storage
