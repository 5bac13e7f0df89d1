/*
Package config reads Switchyard's process configuration from the environment
and parses the YAML override tables consumed by the resolver and the local
watcher.

# Environment variables

All variables are optional:

	STACK_ORDER        comma-separated package names, leftmost highest priority
	FACTORY_ALLOWLIST  comma-separated module prefixes; empty string rejects
	                   every factory, unset means security defaults apply
	CACHE_DIR          artifact cache root
	TRUSTED_SIGNERS    comma-separated base64 Ed25519 public keys
	SUPPRESS_EVENTS    truthy values suppress console echo of events

# Override tables

An override table explicitly pins a provider for a plug point, dominating
every other precedence rule:

	overrides:
	  adapter:
	    cache: redis
	  service:
	    indexer: memory

The local watcher re-parses the table on file change and diffs it against the
previous table to decide which plug points need a swap.
*/
package config
