/*
Package events provides the event broker for Switchyard's control plane.

The broker fans control-plane events (candidate registration, swap phases,
lifecycle errors, integrity violations) out to subscribers over buffered
channels. Slow subscribers are skipped rather than blocking the publisher, so
emitting an event can never stall a swap.

Every event carries the structured identity fields {domain, key, provider,
source} plus free-form fields. Before an event is echoed to the console sink,
free-form field names matching *secret*, *token*, *password*, or *key* are
masked; subscribers receive the unscrubbed event and must apply their own
policy before re-emitting to human-visible channels. Console echo is disabled
entirely when SUPPRESS_EVENTS is set.
*/
package events
