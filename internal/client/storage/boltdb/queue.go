package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/coeditd/coeditd/internal/client/storage"
	"github.com/coeditd/coeditd/internal/models"
)

// Queue keys are the bucket's NextSequence counter encoded big-endian, so
// a cursor walks entries in enqueue order and the order survives restarts.

// Enqueue appends one deferred save to the tail of the queue
func (s *Storage) Enqueue(ctx context.Context, entry *models.OfflineQueueEntry) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		if bucket == nil {
			return fmt.Errorf("queue bucket missing")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		return bucket.Put(queueKey(seq), data)
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// Peek returns the head of the queue without removing it
func (s *Storage) Peek(ctx context.Context) (*models.OfflineQueueEntry, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var entry *models.OfflineQueueEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		_, data := tx.Bucket(bucketQueue).Cursor().First()
		if data == nil {
			return storage.ErrQueueEmpty
		}

		entry = &models.OfflineQueueEntry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return fmt.Errorf("failed to unmarshal queue entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Ack removes the head entry after verifying its op id
func (s *Storage) Ack(ctx context.Context, opID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		cursor := bucket.Cursor()

		key, data := cursor.First()
		if data == nil {
			return storage.ErrQueueEmpty
		}

		entry := &models.OfflineQueueEntry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return fmt.Errorf("failed to unmarshal queue entry: %w", err)
		}
		if entry.OpID != opID {
			return fmt.Errorf("head op id mismatch: have %s, want %s", entry.OpID, opID)
		}

		return bucket.Delete(key)
	})
}

// BumpRetry increments the head entry's retry counter
func (s *Storage) BumpRetry(ctx context.Context, opID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketQueue)
		cursor := bucket.Cursor()

		key, data := cursor.First()
		if data == nil {
			return storage.ErrQueueEmpty
		}

		entry := &models.OfflineQueueEntry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return fmt.Errorf("failed to unmarshal queue entry: %w", err)
		}
		if entry.OpID != opID {
			return fmt.Errorf("head op id mismatch: have %s, want %s", entry.OpID, opID)
		}

		entry.RetryCount++

		updated, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal queue entry: %w", err)
		}
		return bucket.Put(key, updated)
	})
}

// Entries returns the whole queue in drain order
func (s *Storage) Entries(ctx context.Context) ([]*models.OfflineQueueEntry, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var entries []*models.OfflineQueueEntry

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQueue).ForEach(func(_, data []byte) error {
			entry := &models.OfflineQueueEntry{}
			if err := json.Unmarshal(data, entry); err != nil {
				return fmt.Errorf("failed to unmarshal queue entry: %w", err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Len returns the number of pending entries
func (s *Storage) Len(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketQueue).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func queueKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
