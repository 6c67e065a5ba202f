package client

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var chainBucket = []byte("sequential_chain")
var chainKey = []byte("current")

// BoltChainStore persists chain state in a local bbolt file, the client-side
// analogue of browser session storage but durable across process restarts.
type BoltChainStore struct {
	db *bolt.DB
}

// OpenBoltChainStore opens (or creates) the chain database at path.
func OpenBoltChainStore(path string) (*BoltChainStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open chain store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chainBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create chain bucket: %w", err)
	}

	return &BoltChainStore{db: db}, nil
}

// SaveChain replaces the stored state.
func (s *BoltChainStore) SaveChain(state *ChainState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode chain state: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chainBucket).Put(chainKey, data)
	})
}

// LoadChain returns the stored state, or nil when none is recorded.
func (s *BoltChainStore) LoadChain() (*ChainState, error) {
	var state *ChainState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(chainBucket).Get(chainKey)
		if data == nil {
			return nil
		}
		state = &ChainState{}
		return json.Unmarshal(data, state)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode chain state: %w", err)
	}
	return state, nil
}

// ClearChain removes the stored state.
func (s *BoltChainStore) ClearChain() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chainBucket).Delete(chainKey)
	})
}

// Close releases the underlying database file.
func (s *BoltChainStore) Close() error {
	return s.db.Close()
}
