package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coeditd/coeditd/internal/models"
)

// AppendEntry appends a payload to a document's update log. Sequence numbers
// are dense per document; the single-writer connection makes the max+1 read
// and the insert effectively one operation.
func (s *Storage) AppendEntry(
	ctx context.Context,
	documentID string,
	payload []byte,
	createdAt time.Time,
) (*models.LogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var seq uint64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_no), 0) + 1 FROM update_log WHERE document_id = ?`,
		documentID,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate sequence number: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO update_log (document_id, sequence_no, payload, created_at) VALUES (?, ?, ?, ?)`,
		documentID,
		seq,
		payload,
		createdAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert log entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit log entry: %w", err)
	}

	return &models.LogEntry{
		DocumentID: documentID,
		SequenceNo: seq,
		Payload:    payload,
		CreatedAt:  time.UnixMilli(createdAt.UnixMilli()),
	}, nil
}

// ReplayEntries returns all entries for a document in sequence order
// Returns an empty slice for an empty log
func (s *Storage) ReplayEntries(ctx context.Context, documentID string) ([]*models.LogEntry, error) {
	query := `
		SELECT document_id, sequence_no, payload, created_at
		FROM update_log
		WHERE document_id = ?
		ORDER BY sequence_no ASC
	`

	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.LogEntry, 0)
	for rows.Next() {
		entry := &models.LogEntry{}
		var createdAt int64

		if err := rows.Scan(&entry.DocumentID, &entry.SequenceNo, &entry.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		entry.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log entries: %w", err)
	}

	return entries, nil
}

// TailTimestamp returns the created_at of the newest entry, or nil when the
// log is empty
func (s *Storage) TailTimestamp(ctx context.Context, documentID string) (*time.Time, error) {
	query := `
		SELECT created_at
		FROM update_log
		WHERE document_id = ?
		ORDER BY sequence_no DESC
		LIMIT 1
	`

	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, documentID).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get log tail: %w", err)
	}

	tail := time.UnixMilli(createdAt)
	return &tail, nil
}
