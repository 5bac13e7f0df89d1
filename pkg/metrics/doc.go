/*
Package metrics exposes Prometheus metrics for Switchyard's control plane.

Collectors are package-level and registered in init, covering the registry
(candidate counts, registrations, resolutions), the lifecycle manager (ready
instances, swap totals and durations, lifecycle errors), the manifest loader
(fetch results, rejected entries, artifact downloads, circuit breaker state),
and the orchestrator (queue depth, deferred swaps).

The serve loop mounts Handler() at /metrics.
*/
package metrics
