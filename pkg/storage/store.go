package storage

import (
	"time"

	"github.com/cuemby/switchyard/pkg/types"
)

// CachedManifest is the last successfully verified manifest for a source,
// kept for offline degradation when a fetch fails.
type CachedManifest struct {
	Source    string    `json:"source"`
	Raw       []byte    `json:"raw"`
	Signature []byte    `json:"signature,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Store defines the interface for Switchyard's durable state.
// Implemented by BoltDB-backed storage.
type Store interface {
	// Activity records
	PutActivity(rec *types.ActivityRecord) error
	GetActivity(domain types.Domain, key string) (*types.ActivityRecord, error)
	DeleteActivity(domain types.Domain, key string) error
	ListActivities() ([]*types.ActivityRecord, error)

	// Cached manifests
	PutManifest(m *CachedManifest) error
	GetManifest(source string) (*CachedManifest, error)
	DeleteManifest(source string) error

	// Utility
	Close() error
}
