package models

// BlockDelta is the decoded form of one replicated-log payload produced by
// the default block-map replica. Concurrent deltas for the same block are
// resolved by LWW (Last-Write-Wins):
// 1. higher Lamport timestamp wins
// 2. equal timestamps fall back to lexicographic NodeID comparison
// so every replica converges on the same block regardless of arrival order.
type BlockDelta struct {
	BlockID   string `json:"block_id"`
	Type      string `json:"type"`
	NodeID    string `json:"node_id"` // session/client that produced this delta
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"timestamp"` // Lamport timestamp
	Deleted   bool   `json:"deleted"`
}

// IsNewerThan reports whether d supersedes other under LWW rules.
func (d *BlockDelta) IsNewerThan(other *BlockDelta) bool {
	if d.Timestamp > other.Timestamp {
		return true
	}
	if d.Timestamp < other.Timestamp {
		return false
	}
	// equal timestamps, NodeID breaks the tie deterministically
	return d.NodeID > other.NodeID
}

// Clone returns a deep copy of the delta.
func (d *BlockDelta) Clone() *BlockDelta {
	payload := make([]byte, len(d.Payload))
	copy(payload, d.Payload)

	return &BlockDelta{
		BlockID:   d.BlockID,
		Type:      d.Type,
		Payload:   payload,
		Timestamp: d.Timestamp,
		NodeID:    d.NodeID,
		Deleted:   d.Deleted,
	}
}
