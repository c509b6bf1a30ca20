package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coeditd/coeditd/internal/models"
	"github.com/coeditd/coeditd/internal/server/storage"
)

func TestStorage_IdempotencyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	opID := uuid.New().String()
	result := &models.WriteResult{Status: models.WriteAccepted, NewVersion: 7}

	require.NoError(t, s.PutResult(ctx, opID, result, time.Now()))

	got, err := s.GetResult(ctx, opID)
	require.NoError(t, err)
	assert.Equal(t, models.WriteAccepted, got.Status)
	assert.Equal(t, uint64(7), got.NewVersion)
}

func TestStorage_GetResult_NotFound(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.GetResult(ctx, uuid.New().String())
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestStorage_PutResult_Overwrite(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	opID := uuid.New().String()
	result := &models.WriteResult{Status: models.WriteAccepted, NewVersion: 3}

	require.NoError(t, s.PutResult(ctx, opID, result, time.Now()))
	// a retried write records the same result again without error
	require.NoError(t, s.PutResult(ctx, opID, result, time.Now()))

	got, err := s.GetResult(ctx, opID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.NewVersion)
}

func TestStorage_GetResult_ExpiredTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	opID := uuid.New().String()
	result := &models.WriteResult{Status: models.WriteAccepted, NewVersion: 7}

	// older than the retention window but not yet swept
	require.NoError(t, s.PutResult(ctx, opID, result, time.Now().Add(-48*time.Hour)))

	_, err := s.GetResult(ctx, opID)
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestStorage_GetResult_HonorsConfiguredRetention(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, ":memory:", time.Hour)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	opID := uuid.New().String()
	result := &models.WriteResult{Status: models.WriteAccepted, NewVersion: 2}
	require.NoError(t, s.PutResult(ctx, opID, result, time.Now().Add(-2*time.Hour)))

	_, err = s.GetResult(ctx, opID)
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)
}

func TestStorage_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	now := time.Now()
	old := &models.WriteResult{Status: models.WriteAccepted, NewVersion: 1}
	fresh := &models.WriteResult{Status: models.WriteAccepted, NewVersion: 2}

	oldOpID := uuid.New().String()
	freshOpID := uuid.New().String()

	require.NoError(t, s.PutResult(ctx, oldOpID, old, now.Add(-48*time.Hour)))
	require.NoError(t, s.PutResult(ctx, freshOpID, fresh, now))

	removed, err := s.DeleteExpired(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.GetResult(ctx, oldOpID)
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	_, err = s.GetResult(ctx, freshOpID)
	assert.NoError(t, err)
}
