package boltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coeditd/coeditd/internal/client/storage"
	"github.com/coeditd/coeditd/internal/models"
)

func setupTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "client.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s, dbPath
}

func queueEntry(opID string, baseVersion uint64) *models.OfflineQueueEntry {
	return &models.OfflineQueueEntry{
		OpID:        opID,
		DocumentID:  "doc-1",
		BaseVersion: baseVersion,
		EnqueueTime: time.Now().UTC().Truncate(time.Millisecond),
		Content: []models.ContentBlock{
			{Type: "paragraph", Payload: []byte(`{"text":"` + opID + `"}`)},
		},
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	s, _ := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, queueEntry("op-1", 1)))
	require.NoError(t, s.Enqueue(ctx, queueEntry("op-2", 2)))
	require.NoError(t, s.Enqueue(ctx, queueEntry("op-3", 3)))

	count, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, want := range []string{"op-1", "op-2", "op-3"} {
		head, err := s.Peek(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, head.OpID)
		require.NoError(t, s.Ack(ctx, want))
	}

	_, err = s.Peek(ctx)
	assert.ErrorIs(t, err, storage.ErrQueueEmpty)
}

func TestQueuePeekDoesNotRemove(t *testing.T) {
	s, _ := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, queueEntry("op-1", 1)))

	first, err := s.Peek(ctx)
	require.NoError(t, err)
	second, err := s.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.OpID, second.OpID)

	count, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueueAckRejectsWrongOpID(t *testing.T) {
	s, _ := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, queueEntry("op-1", 1)))

	err := s.Ack(ctx, "op-2")
	require.Error(t, err)

	count, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueueBumpRetry(t *testing.T) {
	s, _ := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, queueEntry("op-1", 1)))

	require.NoError(t, s.BumpRetry(ctx, "op-1"))
	require.NoError(t, s.BumpRetry(ctx, "op-1"))

	head, err := s.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, head.RetryCount)
}

func TestQueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "client.db")

	s, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(ctx, queueEntry("op-1", 1)))
	require.NoError(t, s.Enqueue(ctx, queueEntry("op-2", 2)))
	require.NoError(t, s.Close())

	reopened, err := New(dbPath)
	require.NoError(t, err)
	defer func() {
		_ = reopened.Close()
	}()

	entries, err := reopened.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "op-1", entries[0].OpID)
	assert.Equal(t, "op-2", entries[1].OpID)

	// enqueue order keeps extending after restart
	require.NoError(t, reopened.Ack(ctx, "op-1"))
	require.NoError(t, reopened.Enqueue(ctx, queueEntry("op-3", 3)))

	entries, err = reopened.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "op-2", entries[0].OpID)
	assert.Equal(t, "op-3", entries[1].OpID)
}

func TestQueueEntryRoundTrip(t *testing.T) {
	s, _ := setupTestStorage(t)
	ctx := context.Background()

	original := queueEntry("op-1", 7)
	original.RetryCount = 1
	require.NoError(t, s.Enqueue(ctx, original))

	head, err := s.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, original.DocumentID, head.DocumentID)
	assert.Equal(t, original.BaseVersion, head.BaseVersion)
	assert.Equal(t, original.RetryCount, head.RetryCount)
	assert.True(t, original.EnqueueTime.Equal(head.EnqueueTime))
	require.Len(t, head.Content, 1)
	assert.JSONEq(t, string(original.Content[0].Payload), string(head.Content[0].Payload))
}
