package storage

import "errors"

// Common client storage errors
var (
	// ErrIdentityNotFound indicates that no node identity has been stored yet
	ErrIdentityNotFound = errors.New("node identity not found")

	// ErrQueueEmpty indicates that the offline queue holds no entries
	ErrQueueEmpty = errors.New("offline queue is empty")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
