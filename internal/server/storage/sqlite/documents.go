package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coeditd/coeditd/internal/models"
	"github.com/coeditd/coeditd/internal/server/storage"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// CreateDocument materializes a new document row at version 1
// Returns ErrDocumentAlreadyExists if the id is taken
func (s *Storage) CreateDocument(ctx context.Context, doc *models.Document) error {
	content, err := json.Marshal(doc.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}

	query := `
		INSERT INTO documents (id, content, version, updated_at)
		VALUES (?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		doc.ID,
		content,
		doc.Version,
		doc.UpdatedAt.UnixMilli(),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDocumentAlreadyExists
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}

	return nil
}

// GetDocument retrieves the current document row
// Returns ErrDocumentNotFound if the document doesn't exist
func (s *Storage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	query := `
		SELECT id, content, version, updated_at
		FROM documents
		WHERE id = ?
	`

	doc := &models.Document{}
	var content []byte
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&content,
		&doc.Version,
		&updatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if err := json.Unmarshal(content, &doc.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content: %w", err)
	}

	doc.UpdatedAt = time.UnixMilli(updatedAt)

	return doc, nil
}

// CASUpdate atomically replaces content and bumps version by 1, but only if
// the stored version equals baseVersion. The version check and the update
// are one conditional statement, so of two writers racing on the same
// baseVersion exactly one sees RowsAffected == 1.
func (s *Storage) CASUpdate(
	ctx context.Context,
	id string,
	baseVersion uint64,
	content []models.ContentBlock,
	now time.Time,
) (*models.WriteResult, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}

	query := `
		UPDATE documents
		SET content = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	res, err := s.db.ExecContext(ctx, query, data, now.UnixMilli(), id, baseVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to execute conditional update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 1 {
		return &models.WriteResult{
			Status:     models.WriteAccepted,
			NewVersion: baseVersion + 1,
		}, nil
	}

	// The guard did not match: either the document is gone or the version
	// moved. Re-read the row and report its full state as a conflict.
	current, err := s.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.WriteResult{
		Status:          models.WriteConflict,
		LatestVersion:   current.Version,
		LatestContent:   current.Content,
		LatestUpdatedAt: current.UpdatedAt,
	}, nil
}

// ReseedVersion administratively resets a document's version counter
// Returns ErrDocumentNotFound if the document doesn't exist
func (s *Storage) ReseedVersion(ctx context.Context, id string, version uint64) error {
	query := `UPDATE documents SET version = ? WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query, version, id)
	if err != nil {
		return fmt.Errorf("failed to reseed version: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return storage.ErrDocumentNotFound
	}

	return nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint error
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
