// Package replica holds the in-memory CRDT replica built by replaying a
// document's update log. The engine is deliberately simple: an LWW block
// map behind an interface, so a heavier CRDT engine can be swapped in
// without touching the session or read paths.
package replica

import (
	"encoding/json"
	"fmt"

	"github.com/coeditd/coeditd/internal/models"
)

// Delta kinds carried in log payloads.
const (
	KindBlock    = "block"
	KindBaseline = "baseline"
)

// Delta is the envelope encoded into every LogEntry payload. A block delta
// updates one block under LWW rules; a baseline delta replaces the whole
// replica state (appended when the reconciliation policy declares the log
// stale relative to the versioned store).
type Delta struct {
	Kind     string                `json:"kind"`
	NodeID   string                `json:"node_id"`
	Block    *models.BlockDelta    `json:"block,omitempty"`
	Baseline []models.ContentBlock `json:"baseline,omitempty"`
	// Timestamp is the Lamport timestamp of baseline deltas; block deltas
	// carry their own.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// EncodeDelta serializes a delta into a log payload.
func EncodeDelta(d *Delta) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delta: %w", err)
	}
	return data, nil
}

// DecodeDelta parses a log payload back into a delta.
func DecodeDelta(payload []byte) (*Delta, error) {
	d := &Delta{}
	if err := json.Unmarshal(payload, d); err != nil {
		return nil, fmt.Errorf("failed to decode delta: %w", err)
	}
	if d.Kind != KindBlock && d.Kind != KindBaseline {
		return nil, fmt.Errorf("unknown delta kind %q", d.Kind)
	}
	if d.Kind == KindBlock && d.Block == nil {
		return nil, fmt.Errorf("block delta missing block")
	}
	return d, nil
}

// Replica is the opaque CRDT engine interface the rest of the core sees.
type Replica interface {
	// Seed resets the replica wholesale from store content.
	Seed(content []models.ContentBlock, timestamp int64, nodeID string)

	// ApplyPayload decodes and applies one log payload.
	ApplyPayload(payload []byte) error

	// ApplyDelta applies a decoded delta.
	ApplyDelta(d *Delta) error

	// Snapshot materializes the current content, excluding tombstones.
	Snapshot() []models.ContentBlock

	// Clock returns the highest Lamport timestamp observed. The next
	// locally produced delta should use Clock()+1.
	Clock() int64

	// Empty reports whether the replica holds no live blocks.
	Empty() bool
}

// BlockReplica is the default Replica: an ordered LWW block map. Block
// order is arrival order; concurrent updates to one block resolve by
// (timestamp, node id), so all replicas converge.
type BlockReplica struct {
	blocks map[string]*models.BlockDelta
	order  []string
	clock  int64
}

// NewBlockReplica creates an empty replica.
func NewBlockReplica() *BlockReplica {
	return &BlockReplica{
		blocks: make(map[string]*models.BlockDelta),
	}
}

// Seed resets the replica from store content. Synthetic block ids keep the
// store's ordering stable across reseeds.
func (r *BlockReplica) Seed(content []models.ContentBlock, timestamp int64, nodeID string) {
	r.blocks = make(map[string]*models.BlockDelta, len(content))
	r.order = r.order[:0]

	for i, block := range content {
		id := fmt.Sprintf("seed-%06d", i)
		r.blocks[id] = &models.BlockDelta{
			BlockID:   id,
			Type:      block.Type,
			Payload:   block.Payload,
			Timestamp: timestamp,
			NodeID:    nodeID,
		}
		r.order = append(r.order, id)
	}

	if timestamp > r.clock {
		r.clock = timestamp
	}
}

// ApplyPayload decodes and applies one log payload
func (r *BlockReplica) ApplyPayload(payload []byte) error {
	d, err := DecodeDelta(payload)
	if err != nil {
		return err
	}
	return r.ApplyDelta(d)
}

// ApplyDelta applies a decoded delta
func (r *BlockReplica) ApplyDelta(d *Delta) error {
	switch d.Kind {
	case KindBaseline:
		r.Seed(d.Baseline, d.Timestamp, d.NodeID)
		return nil
	case KindBlock:
		r.applyBlock(d.Block)
		return nil
	default:
		return fmt.Errorf("unknown delta kind %q", d.Kind)
	}
}

func (r *BlockReplica) applyBlock(delta *models.BlockDelta) {
	if delta.Timestamp > r.clock {
		r.clock = delta.Timestamp
	}

	existing, ok := r.blocks[delta.BlockID]
	if !ok {
		r.blocks[delta.BlockID] = delta.Clone()
		r.order = append(r.order, delta.BlockID)
		return
	}

	// LWW: the older delta never overwrites the newer one
	if existing.IsNewerThan(delta) {
		return
	}
	r.blocks[delta.BlockID] = delta.Clone()
}

// Snapshot materializes the live blocks in order
func (r *BlockReplica) Snapshot() []models.ContentBlock {
	content := make([]models.ContentBlock, 0, len(r.order))
	for _, id := range r.order {
		block, ok := r.blocks[id]
		if !ok || block.Deleted {
			continue
		}
		payload := make([]byte, len(block.Payload))
		copy(payload, block.Payload)
		content = append(content, models.ContentBlock{Type: block.Type, Payload: payload})
	}
	return content
}

// Clock returns the highest Lamport timestamp observed
func (r *BlockReplica) Clock() int64 {
	return r.clock
}

// Empty reports whether the replica holds no live blocks
func (r *BlockReplica) Empty() bool {
	for _, id := range r.order {
		if block, ok := r.blocks[id]; ok && !block.Deleted {
			return false
		}
	}
	return true
}

// Materialize replays a payload sequence into a fresh replica and returns
// the resulting content. Used by the REST read path when the policy picks
// the log as canonical.
func Materialize(payloads [][]byte) ([]models.ContentBlock, error) {
	r := NewBlockReplica()
	for _, payload := range payloads {
		if err := r.ApplyPayload(payload); err != nil {
			return nil, err
		}
	}
	return r.Snapshot(), nil
}
