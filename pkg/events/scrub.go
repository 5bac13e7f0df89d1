package events

import "strings"

// Masked replaces the value of any redacted field.
const Masked = "[REDACTED]"

// sensitiveFragments are matched as substrings against lowercased field
// names. Deliberately coarse: a false positive costs a masked value, a false
// negative leaks a credential to a console sink.
var sensitiveFragments = []string{
	"secret",
	"token",
	"password",
	"key",
}

// Sensitive reports whether a field name must be masked before the event
// reaches a human-visible sink.
func Sensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Scrub returns a copy of fields with sensitive values masked. The input map
// is never modified; subscribers receive the unscrubbed event.
func Scrub(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if Sensitive(k) {
			out[k] = Masked
		} else {
			out[k] = v
		}
	}
	return out
}
