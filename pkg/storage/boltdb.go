package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/switchyard/pkg/types"
)

var (
	// Bucket names
	bucketMeta       = []byte("meta")
	bucketActivities = []byte("activities")
	bucketManifests  = []byte("manifests")

	keySchemaVersion = []byte("schema_version")
)

// schemaVersion is the current on-disk schema. Older databases are upgraded
// in place on open; databases written by a newer Switchyard are refused.
// Records are JSON, so unknown fields from older writers are ignored on read.
const schemaVersion = 1

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "switchyard.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets and check the schema version
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketMeta,
			bucketActivities,
			bucketManifests,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		raw := meta.Get(keySchemaVersion)
		if raw == nil {
			return meta.Put(keySchemaVersion, []byte(fmt.Sprintf("%d", schemaVersion)))
		}

		var stored int
		if _, err := fmt.Sscanf(string(raw), "%d", &stored); err != nil {
			return fmt.Errorf("corrupt schema version %q", raw)
		}
		if stored > schemaVersion {
			return fmt.Errorf("database schema version %d is newer than supported %d", stored, schemaVersion)
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func activityKey(domain types.Domain, key string) []byte {
	return []byte(string(domain) + "/" + key)
}

// Activity operations
func (s *BoltStore) PutActivity(rec *types.ActivityRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActivities)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(activityKey(rec.Domain, rec.Key), data)
	})
}

// GetActivity returns the activity record for a plug point, or nil when the
// plug point has no recorded activity.
func (s *BoltStore) GetActivity(domain types.Domain, key string) (*types.ActivityRecord, error) {
	var rec *types.ActivityRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActivities)
		data := b.Get(activityKey(domain, key))
		if data == nil {
			return nil
		}
		rec = &types.ActivityRecord{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

func (s *BoltStore) DeleteActivity(domain types.Domain, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActivities)
		return b.Delete(activityKey(domain, key))
	})
}

func (s *BoltStore) ListActivities() ([]*types.ActivityRecord, error) {
	var records []*types.ActivityRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActivities)
		return b.ForEach(func(k, v []byte) error {
			var rec types.ActivityRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
			return nil
		})
	})
	return records, err
}

// Manifest operations
func (s *BoltStore) PutManifest(m *CachedManifest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifests)
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put([]byte(m.Source), data)
	})
}

// GetManifest returns the cached manifest for a source, or nil when no copy
// has been cached.
func (s *BoltStore) GetManifest(source string) (*CachedManifest, error) {
	var m *CachedManifest
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifests)
		data := b.Get([]byte(source))
		if data == nil {
			return nil
		}
		m = &CachedManifest{}
		return json.Unmarshal(data, m)
	})
	return m, err
}

func (s *BoltStore) DeleteManifest(source string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifests)
		return b.Delete([]byte(source))
	})
}
