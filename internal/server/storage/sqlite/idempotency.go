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
)

// PutResult records the WriteResult computed for an op_id. An existing
// record for the same op_id is overwritten; by the idempotence invariant
// the result is identical anyway.
func (s *Storage) PutResult(
	ctx context.Context,
	opID string,
	result *models.WriteResult,
	recordedAt time.Time,
) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal write result: %w", err)
	}

	query := `
		INSERT INTO idempotency (op_id, result, recorded_at)
		VALUES (?, ?, ?)
		ON CONFLICT (op_id) DO UPDATE SET result = excluded.result
	`

	if _, err := s.db.ExecContext(ctx, query, opID, data, recordedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to put idempotency record: %w", err)
	}

	return nil
}

// GetResult returns the cached result for the op_id.
// Returns ErrRecordNotFound if absent or older than the retention window;
// expired rows are treated as absent even before the sweeper removes them.
func (s *Storage) GetResult(ctx context.Context, opID string) (*models.WriteResult, error) {
	query := `SELECT result, recorded_at FROM idempotency WHERE op_id = ?`

	var data []byte
	var recordedAt int64
	err := s.db.QueryRowContext(ctx, query, opID).Scan(&data, &recordedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	record := &models.IdempotencyRecord{
		OpID:       opID,
		RecordedAt: time.UnixMilli(recordedAt),
	}
	if record.Expired(s.nowFunc(), s.retention) {
		return nil, storage.ErrRecordNotFound
	}

	if err := json.Unmarshal(data, &record.Result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal write result: %w", err)
	}

	return &record.Result, nil
}

// DeleteExpired removes records recorded before olderThan and returns the
// number removed. Called periodically; the retention window must exceed the
// longest plausible client retry interval.
func (s *Storage) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM idempotency WHERE recorded_at < ?`

	res, err := s.db.ExecContext(ctx, query, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return removed, nil
}
