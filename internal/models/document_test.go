package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteResult_Accepted(t *testing.T) {
	accepted := &WriteResult{Status: WriteAccepted, NewVersion: 6}
	assert.True(t, accepted.Accepted())

	conflict := &WriteResult{Status: WriteConflict, LatestVersion: 6}
	assert.False(t, conflict.Accepted())
}

func TestIdempotencyRecord_Expired(t *testing.T) {
	now := time.Now()
	retention := 24 * time.Hour

	tests := []struct {
		recordedAt time.Time
		name       string
		want       bool
	}{
		{
			name:       "fresh record is not expired",
			recordedAt: now.Add(-time.Minute),
			want:       false,
		},
		{
			name:       "record at exactly the window edge is not expired",
			recordedAt: now.Add(-retention),
			want:       false,
		},
		{
			name:       "record older than the window is expired",
			recordedAt: now.Add(-retention - time.Second),
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &IdempotencyRecord{OpID: "op", RecordedAt: tt.recordedAt}
			assert.Equal(t, tt.want, rec.Expired(now, retention))
		})
	}
}

func TestCloneContent(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, CloneContent(nil))
	})

	t.Run("mutating the clone does not touch the original", func(t *testing.T) {
		original := []ContentBlock{
			{Type: "paragraph", Payload: []byte(`{"text":"hello"}`)},
			{Type: "heading", Payload: []byte(`{"text":"title"}`)},
		}

		clone := CloneContent(original)
		clone[0].Payload[0] = 'X'
		clone[1].Type = "changed"

		assert.Equal(t, byte('{'), original[0].Payload[0])
		assert.Equal(t, "heading", original[1].Type)
	})
}

func TestBlockDelta_IsNewerThan(t *testing.T) {
	tests := []struct {
		name  string
		a     BlockDelta
		b     BlockDelta
		aWins bool
	}{
		{
			name:  "higher timestamp wins",
			a:     BlockDelta{Timestamp: 200, NodeID: "node1"},
			b:     BlockDelta{Timestamp: 100, NodeID: "node2"},
			aWins: true,
		},
		{
			name:  "lower timestamp loses",
			a:     BlockDelta{Timestamp: 100, NodeID: "node2"},
			b:     BlockDelta{Timestamp: 200, NodeID: "node1"},
			aWins: false,
		},
		{
			name:  "equal timestamps fall back to node id",
			a:     BlockDelta{Timestamp: 100, NodeID: "node2"},
			b:     BlockDelta{Timestamp: 100, NodeID: "node1"},
			aWins: true,
		},
		{
			name:  "equal timestamps, lower node id loses",
			a:     BlockDelta{Timestamp: 100, NodeID: "node1"},
			b:     BlockDelta{Timestamp: 100, NodeID: "node2"},
			aWins: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.aWins, tt.a.IsNewerThan(&tt.b))
			// determinism: the comparison never flips for the same inputs
			assert.Equal(t, tt.aWins, tt.a.IsNewerThan(&tt.b))
		})
	}
}

func TestBlockDelta_Clone(t *testing.T) {
	original := &BlockDelta{
		BlockID:   "block1",
		Type:      "paragraph",
		Payload:   []byte("payload"),
		Timestamp: 42,
		NodeID:    "node1",
	}

	clone := original.Clone()
	assert.Equal(t, original, clone)

	clone.Payload[0] = 'X'
	assert.Equal(t, byte('p'), original.Payload[0])
}
