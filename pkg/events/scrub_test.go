package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSensitive(t *testing.T) {
	tests := []struct {
		name      string
		sensitive bool
	}{
		{"api_token", true},
		{"ClientSecret", true},
		{"password", true},
		{"signer_key_id", true},
		{"PublicKey", true},
		{"version", false},
		{"uri", false},
		{"sha256", false},
		{"monkey", true}, // coarse on purpose: contains "key"
	}
	for _, tt := range tests {
		assert.Equal(t, tt.sensitive, Sensitive(tt.name), "field %s", tt.name)
	}
}

func TestScrubMasksWithoutMutating(t *testing.T) {
	in := map[string]string{
		"version":   "1.2.3",
		"api_token": "hunter2",
	}
	out := Scrub(in)
	assert.Equal(t, "1.2.3", out["version"])
	assert.Equal(t, Masked, out["api_token"])
	// Original payload untouched for subscribers.
	assert.Equal(t, "hunter2", in["api_token"])
}

func TestScrubEmpty(t *testing.T) {
	assert.Nil(t, Scrub(nil))
	assert.Nil(t, Scrub(map[string]string{}))
}
