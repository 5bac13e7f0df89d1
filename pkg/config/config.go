package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/switchyard/pkg/errdefs"
	"github.com/cuemby/switchyard/pkg/types"
)

// Environment variables recognized by Switchyard. Each is optional.
const (
	EnvStackOrder       = "STACK_ORDER"
	EnvFactoryAllowlist = "FACTORY_ALLOWLIST"
	EnvCacheDir         = "CACHE_DIR"
	EnvTrustedSigners   = "TRUSTED_SIGNERS"
	EnvSuppressEvents   = "SUPPRESS_EVENTS"
)

// Config holds process-level configuration read from the environment.
type Config struct {
	// StackOrder lists package names, leftmost highest priority. A package's
	// position determines the priority of candidates it registers.
	StackOrder []string

	// FactoryAllowlist restricts acceptable factory module prefixes.
	// An empty (but set) list rejects every factory; when HasAllowlist is
	// false, the security defaults apply.
	FactoryAllowlist []string
	HasAllowlist     bool

	// CacheDir is the artifact cache root.
	CacheDir string

	// TrustedSigners is the manifest signature trust set (base64 Ed25519
	// public keys). Any trusted key suffices.
	TrustedSigners []string

	// SuppressEvents disables console echo of emitted events. Structured
	// events are still published to subscribers.
	SuppressEvents bool
}

// FromEnv reads configuration from the process environment.
func FromEnv() *Config {
	cfg := &Config{
		CacheDir: os.Getenv(EnvCacheDir),
	}

	if v := os.Getenv(EnvStackOrder); v != "" {
		cfg.StackOrder = splitList(v)
	}
	if v, ok := os.LookupEnv(EnvFactoryAllowlist); ok {
		cfg.HasAllowlist = true
		cfg.FactoryAllowlist = splitList(v)
	}
	if v := os.Getenv(EnvTrustedSigners); v != "" {
		cfg.TrustedSigners = splitList(v)
	}
	cfg.SuppressEvents = truthy(os.Getenv(EnvSuppressEvents))

	return cfg
}

// PriorityFor returns the registration priority for a package based on its
// position in the stack order: leftmost highest, absent lowest.
func (c *Config) PriorityFor(pkg string) int {
	for i, name := range c.StackOrder {
		if name == pkg {
			p := len(c.StackOrder) - i
			if p > types.MaxPriority {
				p = types.MaxPriority
			}
			return p
		}
	}
	return types.PriorityUnset
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// OverrideTable maps (domain, key) to an explicitly selected provider. It is
// the first rule of the resolver's precedence ladder.
type OverrideTable map[types.Domain]map[string]string

// overrideFile is the on-disk shape of an override table.
type overrideFile struct {
	Overrides map[string]map[string]string `yaml:"overrides"`
}

// LoadOverrides parses an override table from a YAML file. Entries that
// violate the identity grammar fail the load; a missing file is an empty
// table.
func LoadOverrides(path string) (OverrideTable, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return OverrideTable{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides %s: %w", path, err)
	}
	return ParseOverrides(data)
}

// ParseOverrides parses override table bytes.
func ParseOverrides(data []byte) (OverrideTable, error) {
	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse overrides: %w", err)
	}

	table := OverrideTable{}
	for d, keys := range file.Overrides {
		domain := types.Domain(d)
		if !domain.Valid() {
			return nil, errdefs.InvalidIdentity("unknown domain %q in overrides", d)
		}
		for key, provider := range keys {
			if !types.ValidKey(key) {
				return nil, errdefs.InvalidIdentity("invalid override key %q", key)
			}
			if !types.ValidKey(provider) {
				return nil, errdefs.InvalidIdentity("invalid override provider %q", provider)
			}
			if table[domain] == nil {
				table[domain] = map[string]string{}
			}
			table[domain][key] = provider
		}
	}
	return table, nil
}

// Provider returns the overridden provider for a plug point, if any.
func (t OverrideTable) Provider(domain types.Domain, key string) (string, bool) {
	if keys, ok := t[domain]; ok {
		p, ok := keys[key]
		return p, ok
	}
	return "", false
}

// Diff returns the refs whose override changed between t and other, in a
// stable order. Added, removed, and re-pointed entries all count as changed.
func (t OverrideTable) Diff(other OverrideTable) []types.Ref {
	seen := map[types.Ref]bool{}
	var changed []types.Ref

	check := func(a, b OverrideTable) {
		for domain, keys := range a {
			for key := range keys {
				ref := types.Ref{Domain: domain, Key: key}
				if seen[ref] {
					continue
				}
				pa, _ := a.Provider(domain, key)
				pb, okb := b.Provider(domain, key)
				if !okb || pa != pb {
					seen[ref] = true
					changed = append(changed, ref)
				}
			}
		}
	}
	check(t, other)
	check(other, t)

	sort.Slice(changed, func(i, j int) bool {
		return changed[i].String() < changed[j].String()
	})
	return changed
}
