/*
Package types defines the shared data model for Switchyard's control plane.

The core vocabulary is the Candidate: an immutable descriptor of one possible
implementation for a (domain, key) plug point. Candidates are collected by the
registry, ranked by the resolver's precedence ladder, and turned into live
instances by the lifecycle manager.

# Domains

A Domain is a closed namespace tag. Keys are unique only within their domain:

	adapter   - protocol/storage adapters (cache, bus, blob store clients)
	service   - long-running background services
	task      - schedulable units of work
	event     - event handler bindings
	workflow  - workflow engine bindings

# Identity grammar

Keys and providers are dotted identifiers ([A-Za-z0-9_-] segments); traversal
sequences ("..") and path separators are rejected at every entry point.
Factory references use the form "module:symbol" and are additionally subject
to the security policy in pkg/security before they may resolve to code.

# Ordering fields

Priority (-1000..1000) derives from the registering package's position in the
stack order; StackLevel (-100..100) is declared by the candidate itself and
breaks ties within a package. Absent values use the *Unset sentinels, which
sort below every valid value.
*/
package types
