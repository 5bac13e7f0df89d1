package manifest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/switchyard/pkg/types"
)

// Manifest is the remote document that maps providers onto plug points.
type Manifest struct {
	Source    string  `yaml:"source"`
	Profile   Profile `yaml:"profile,omitempty"`
	Entries   []Entry `yaml:"entries"`
	Signature string  `yaml:"signature,omitempty"`
	Signer    string  `yaml:"signer,omitempty"`
}

// Profile toggles loader behaviors from inside the manifest itself.
type Profile struct {
	// DisableWatchers stops the remote watcher from polling this source.
	DisableWatchers bool `yaml:"disable_watchers,omitempty"`

	// Inline marks a manifest that was delivered out of band; the loader
	// skips the network fetch and works from the given bytes.
	Inline bool `yaml:"inline,omitempty"`
}

// Entry describes one candidate the manifest offers.
type Entry struct {
	Domain       types.Domain `yaml:"domain"`
	Key          string       `yaml:"key"`
	Provider     string       `yaml:"provider"`
	URI          string       `yaml:"uri,omitempty"`
	SHA256       string       `yaml:"sha256,omitempty"`
	Signature    string       `yaml:"signature,omitempty"`
	Signer       string       `yaml:"signer,omitempty"`
	Priority     *int         `yaml:"priority,omitempty"`
	StackLevel   *int         `yaml:"stack_level,omitempty"`
	Version      string       `yaml:"version,omitempty"`
	Capabilities []string     `yaml:"capabilities,omitempty"`
	Factory      string       `yaml:"factory,omitempty"`
}

// Parse decodes a YAML manifest document.
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// DecodeSignature returns the detached signature bytes, or nil when the
// manifest is unsigned.
func (m *Manifest) DecodeSignature() ([]byte, error) {
	if m.Signature == "" {
		return nil, nil
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest signature: %w", err)
	}
	return sig, nil
}

// Canonical computes the byte form the signature covers: the document with
// the signature and signer fields removed, mapping keys sorted
// lexicographically at every level, emitted as compact UTF-8 with no trailing
// whitespace. JSON encoding of a normalized tree gives exactly that.
func Canonical(raw []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest for canonicalization: %w", err)
	}
	delete(doc, "signature")
	delete(doc, "signer")

	norm, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(norm)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize manifest: %w", err)
	}
	return out, nil
}

// normalize rewrites YAML's decoded tree into a json.Marshal-able one. YAML
// permits non-string mapping keys; those are rejected rather than coerced so
// two manifests can never canonicalize to the same bytes.
func normalize(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("manifest contains non-string mapping key %v", k)
			}
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}
