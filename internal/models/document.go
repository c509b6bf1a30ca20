package models

import "time"

// ContentBlock is one application-defined unit of document content.
// The core treats it as an immutable value and never inspects Payload.
type ContentBlock struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload"`
}

// Document is the versioned-store row for one logical document.
// Mutated only through the CAS write path: version increases by exactly 1
// per accepted write and is never decremented or skipped, except by an
// explicit administrative reseed.
type Document struct {
	UpdatedAt time.Time      `json:"updated_at"`
	ID        string         `json:"id"` // UUID
	Content   []ContentBlock `json:"content"`
	Version   uint64         `json:"version"`
}

// WriteRequest is one attempt to replace a document's content wholesale.
// OpID is the client-generated idempotency key; replaying the same OpID
// must produce the same WriteResult.
type WriteRequest struct {
	ClientTimestamp time.Time      `json:"client_timestamp"`
	DocumentID      string         `json:"document_id"`
	OpID            string         `json:"op_id"` // UUID
	Content         []ContentBlock `json:"content"`
	BaseVersion     uint64         `json:"base_version"`
}

// WriteStatus discriminates the two terminal outcomes of a CAS write.
type WriteStatus string

// Write outcomes. A write is either accepted or rejected with the current
// row state; never both.
const (
	WriteAccepted WriteStatus = "accepted"
	WriteConflict WriteStatus = "conflict"
)

// WriteResult is the outcome of a CAS write. For WriteAccepted only
// NewVersion is set; for WriteConflict the Latest* fields carry the full
// current row so the caller can fast-forward or merge.
type WriteResult struct {
	LatestUpdatedAt time.Time      `json:"latest_updated_at,omitzero"`
	Status          WriteStatus    `json:"status"`
	LatestContent   []ContentBlock `json:"latest_content,omitempty"`
	NewVersion      uint64         `json:"new_version,omitempty"`
	LatestVersion   uint64         `json:"latest_version,omitempty"`
}

// Accepted reports whether the write was applied.
func (r *WriteResult) Accepted() bool {
	return r.Status == WriteAccepted
}

// LogEntry is one element of a document's replicated update log.
// Entries are append-only and immutable; a reseed appends a new baseline
// entry rather than deleting prior ones.
type LogEntry struct {
	CreatedAt  time.Time `json:"created_at"`
	DocumentID string    `json:"document_id"`
	Payload    []byte    `json:"payload"` // opaque CRDT delta
	SequenceNo uint64    `json:"sequence_no"`
}

// OfflineQueueEntry is one deferred save, owned by exactly one autosave
// coordinator and durable across process restarts. Removed only after a
// server-confirmed accept or an explicit give-up after max retries.
type OfflineQueueEntry struct {
	EnqueueTime time.Time      `json:"enqueue_time"`
	DocumentID  string         `json:"document_id"`
	OpID        string         `json:"op_id"` // original op_id, reused on drain
	Content     []ContentBlock `json:"content"`
	BaseVersion uint64         `json:"base_version"`
	RetryCount  int            `json:"retry_count"`
}

// IdempotencyRecord maps an op_id to its previously computed result.
// Expired records are treated as absent.
type IdempotencyRecord struct {
	RecordedAt time.Time   `json:"recorded_at"`
	OpID       string      `json:"op_id"`
	Result     WriteResult `json:"result"`
}

// Expired reports whether the record is older than the retention window.
func (r *IdempotencyRecord) Expired(now time.Time, retention time.Duration) bool {
	return now.Sub(r.RecordedAt) > retention
}

// CloneContent returns a deep copy of a block slice. The store layer always
// replaces content wholesale, never mutates it in place.
func CloneContent(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	for i, b := range blocks {
		payload := make([]byte, len(b.Payload))
		copy(payload, b.Payload)
		out[i] = ContentBlock{Type: b.Type, Payload: payload}
	}
	return out
}
