package storage

import "errors"

// Common storage errors
var (
	// ErrDocumentNotFound indicates that the document row does not exist
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDocumentAlreadyExists indicates that a document with this id already exists
	ErrDocumentAlreadyExists = errors.New("document already exists")

	// ErrRecordNotFound indicates that no idempotency record exists for the op_id
	ErrRecordNotFound = errors.New("idempotency record not found")

	// ErrUnavailable indicates a transient storage failure; callers may retry
	ErrUnavailable = errors.New("storage temporarily unavailable")
)
