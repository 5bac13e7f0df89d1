package security

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/switchyard/pkg/errdefs"
)

func TestCheckFactoryBlockList(t *testing.T) {
	policy := NewFactoryPolicy(nil, false)

	tests := []struct {
		name    string
		factory string
		wantErr bool
	}{
		{"plain extension module", "ext.cache.redis:NewClient", false},
		{"empty factory selects installed code", "", false},
		{"blocked exact", "os:system", true},
		{"blocked submodule", "os.path:join", true},
		{"blocked subprocess", "subprocess:Popen", true},
		{"blocked importer", "importlib.util:spec_from_file_location", true},
		{"blocked introspection", "inspect:getsource", true},
		{"prefix is not a dotted parent", "oscar:NewThing", false},
		{"malformed reference", "not a factory", true},
		{"missing symbol", "ext.cache:", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.CheckFactory(tt.factory)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, errdefs.ErrInvalidFactory))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckFactoryAllowList(t *testing.T) {
	policy := NewFactoryPolicy([]string{"ext", "vendor.plugins"}, true)

	assert.NoError(t, policy.CheckFactory("ext.cache.redis:NewClient"))
	assert.NoError(t, policy.CheckFactory("vendor.plugins.kafka:NewProducer"))
	assert.Error(t, policy.CheckFactory("thirdparty.cache:NewClient"))
	// Block-list still dominates the allow-list.
	blocked := NewFactoryPolicy([]string{"os"}, true)
	assert.Error(t, blocked.CheckFactory("os.path:join"))
}

func TestCheckFactoryEmptyAllowListRejectsEverything(t *testing.T) {
	policy := NewFactoryPolicy(nil, true)
	assert.Error(t, policy.CheckFactory("ext.cache.redis:NewClient"))
	// Candidates without code still pass.
	assert.NoError(t, policy.CheckFactory(""))
}
