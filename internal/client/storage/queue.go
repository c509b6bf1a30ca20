package storage

import (
	"context"

	"github.com/coeditd/coeditd/internal/models"
)

// QueueStorage is the durable offline save queue. Strictly FIFO: entries
// drain in enqueue order, and an entry leaves the queue only after the
// server confirmed the save or the owner explicitly gave up on it.
type QueueStorage interface {
	// Enqueue appends one deferred save to the tail of the queue
	Enqueue(ctx context.Context, entry *models.OfflineQueueEntry) error

	// Peek returns the head of the queue without removing it.
	// Returns ErrQueueEmpty when nothing is pending.
	Peek(ctx context.Context) (*models.OfflineQueueEntry, error)

	// Ack removes the head entry. opID must match the head's op id,
	// which guards against double-removal after a crashed drain.
	Ack(ctx context.Context, opID string) error

	// BumpRetry increments the head entry's retry counter in place
	BumpRetry(ctx context.Context, opID string) error

	// Entries returns the whole queue in drain order
	Entries(ctx context.Context) ([]*models.OfflineQueueEntry, error)

	// Len returns the number of pending entries
	Len(ctx context.Context) (int, error)
}
