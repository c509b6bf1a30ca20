package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/coeditd/coeditd/internal/client/storage"
)

// identityKey is the single record key inside the identity bucket
var identityKey = []byte("identity")

// SaveIdentity stores or replaces the node identity
func (s *Storage) SaveIdentity(ctx context.Context, identity *storage.Identity) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put(identityKey, data)
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetIdentity retrieves the node identity
func (s *Storage) GetIdentity(ctx context.Context) (*storage.Identity, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var identity *storage.Identity

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketIdentity).Get(identityKey)
		if data == nil {
			return storage.ErrIdentityNotFound
		}

		identity = &storage.Identity{}
		if err := json.Unmarshal(data, identity); err != nil {
			return fmt.Errorf("failed to unmarshal identity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return identity, nil
}

// DeleteIdentity removes the node identity
func (s *Storage) DeleteIdentity(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdentity).Delete(identityKey)
	})
}
