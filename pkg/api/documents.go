package api

import (
	"encoding/json"
	"time"
)

// ContentBlock is one opaque unit of document content. The server never
// inspects Payload; it is stored and returned verbatim.
type ContentBlock struct {
	Type    string          `json:"type"`    // application-defined block type
	Payload json.RawMessage `json:"payload"` // opaque block payload
}

// DocumentResponse is the body of GET /api/v1/documents/{id}.
type DocumentResponse struct {
	UpdatedAt     time.Time      `json:"updated_at"`
	ID            string         `json:"id"`
	ContentSource string         `json:"content_source"` // "store" or "log", diagnostic only
	Content       []ContentBlock `json:"content"`
	Version       uint64         `json:"version"`
}

// ContentSource values reported by DocumentResponse.
const (
	ContentSourceStore = "store"
	ContentSourceLog   = "log"
)

// SaveRequest is the body of PATCH /api/v1/documents/{id}.
// OpID must also be sent as the Idempotency-Key header.
type SaveRequest struct {
	ClientTimestamp time.Time      `json:"client_timestamp"`
	OpID            string         `json:"op_id"` // UUID, idempotency key
	Content         []ContentBlock `json:"content"`
	BaseVersion     uint64         `json:"base_version"`
}

// SaveAccepted is the 200 response to a save.
type SaveAccepted struct {
	NewVersion uint64 `json:"new_version"`
}

// SaveConflict is the 409 response to a save. The request was not applied;
// the caller may fast-forward with BaseVersion = LatestVersion.
type SaveConflict struct {
	LatestUpdatedAt time.Time      `json:"latest_updated_at"`
	LatestContent   []ContentBlock `json:"latest_content"`
	LatestVersion   uint64         `json:"latest_version"`
}

// CreateDocumentRequest is the body of POST /api/v1/documents.
type CreateDocumentRequest struct {
	Content []ContentBlock `json:"content"`
}

// CreateDocumentResponse is the 201 response to a document create.
type CreateDocumentResponse struct {
	ID      string `json:"id"`
	Version uint64 `json:"version"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// IdempotencyKeyHeader carries the save op_id; it must match the body's op_id.
const IdempotencyKeyHeader = "Idempotency-Key"
