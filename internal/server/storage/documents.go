package storage

import (
	"context"
	"time"

	"github.com/coeditd/coeditd/internal/models"
)

// DocumentStore defines the interface for versioned document persistence.
// One row per document; the row is only ever replaced wholesale through
// CASUpdate, never mutated field by field.
type DocumentStore interface {
	// CreateDocument materializes a new document at version 1.
	// Returns ErrDocumentAlreadyExists if the id is taken.
	CreateDocument(ctx context.Context, doc *models.Document) error

	// GetDocument retrieves the current row.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*models.Document, error)

	// CASUpdate atomically replaces content and bumps version by 1, but only
	// if the stored version equals baseVersion. On mismatch it returns a
	// WriteConflict result carrying the full current row; no version is
	// consumed. Exactly one of two concurrent writers racing on the same
	// baseVersion succeeds.
	CASUpdate(ctx context.Context, id string, baseVersion uint64, content []models.ContentBlock, now time.Time) (*models.WriteResult, error)

	// ReseedVersion administratively resets a document's version counter.
	// The only sanctioned way a version ever moves outside +1 increments.
	ReseedVersion(ctx context.Context, id string, version uint64) error
}

// UpdateLog defines the interface for the append-only replicated update log.
// Entries are immutable once appended; a logical reseed appends a new
// baseline entry rather than deleting history.
type UpdateLog interface {
	// AppendEntry appends a payload for a document and returns the entry
	// with its assigned sequence number and creation time.
	AppendEntry(ctx context.Context, documentID string, payload []byte, createdAt time.Time) (*models.LogEntry, error)

	// ReplayEntries returns all entries for a document in sequence order.
	// Returns an empty slice for an empty log.
	ReplayEntries(ctx context.Context, documentID string) ([]*models.LogEntry, error)

	// TailTimestamp returns the created_at of the newest entry, or nil when
	// the log is empty. This is the log-side input to the reconciliation
	// policy.
	TailTimestamp(ctx context.Context, documentID string) (*time.Time, error)
}

// IdempotencyCache maps an op_id to its previously computed WriteResult,
// bounded by a retention window.
type IdempotencyCache interface {
	// GetResult returns the cached result for the op_id.
	// Returns ErrRecordNotFound if absent or expired.
	GetResult(ctx context.Context, opID string) (*models.WriteResult, error)

	// PutResult records the result for the op_id. Overwrites an existing
	// record for the same op_id (the result is identical by invariant).
	PutResult(ctx context.Context, opID string, result *models.WriteResult, recordedAt time.Time) error

	// DeleteExpired removes records older than the retention window and
	// returns the number removed.
	DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error)
}
