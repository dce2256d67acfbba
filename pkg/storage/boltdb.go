package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/orbitctl/orbit/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketGroups = []byte("container_groups")

// BoltStore implements Store using BoltDB (bbolt) as the embedded backing
// file. Snapshots of the container-group intent are written here by the
// cluster FSM on every Apply; a restarted node does not read them back and
// recovers its state from raft alone.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file at <dataDir>/orbit.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "orbit.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketGroups)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveGroup upserts a container group's desired-state snapshot.
func (s *BoltStore) SaveGroup(meta *types.ContainerGroupMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return b.Put([]byte(meta.Id), data)
	})
}

// GetGroup retrieves a container group's snapshot by id.
func (s *BoltStore) GetGroup(id string) (*types.ContainerGroupMeta, error) {
	var meta types.ContainerGroupMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("container group not found: %s", id)
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// ListGroups returns every persisted container group snapshot.
func (s *BoltStore) ListGroups() ([]*types.ContainerGroupMeta, error) {
	var metas []*types.ContainerGroupMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		return b.ForEach(func(k, v []byte) error {
			var meta types.ContainerGroupMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			metas = append(metas, &meta)
			return nil
		})
	})
	return metas, err
}

// DeleteGroup removes a container group's snapshot. The scheduler's GC
// sweep does not call it, so snapshots of collected groups remain.
func (s *BoltStore) DeleteGroup(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		return b.Delete([]byte(id))
	})
}
