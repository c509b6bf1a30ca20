package session

import (
	"encoding/json"
	"fmt"
)

// Frame types exchanged on the realtime channel. Delta and snapshot frames
// are binary (opaque replica payloads); presence and drain frames are JSON
// control messages, ephemeral and never persisted.
const (
	FrameDelta    = "delta"
	FrameSnapshot = "snapshot"
	FramePresence = "presence"
	FrameDrain    = "drain"
)

// Frame is one message on a peer's channel.
type Frame struct {
	Type    string
	Payload []byte
}

// PresenceFrame is the JSON body of a presence control message: who is
// connected and where their cursor sits. Not subject to any consistency
// invariant.
type PresenceFrame struct {
	Kind     string `json:"kind"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	CursorAt string `json:"cursor_at,omitempty"` // block id, free-form
	Left     bool   `json:"left,omitempty"`
}

// DrainFrame is the JSON control message a client sends while draining its
// offline queue. While active, the session must not apply full-document
// resets from other peers on top of the client's in-flight saves.
type DrainFrame struct {
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
}

// decodeControl parses a text frame into either a PresenceFrame or a
// DrainFrame based on its kind discriminator.
func decodeControl(payload []byte) (any, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode control frame: %w", err)
	}

	switch probe.Kind {
	case FramePresence:
		frame := &PresenceFrame{}
		if err := json.Unmarshal(payload, frame); err != nil {
			return nil, fmt.Errorf("failed to decode presence frame: %w", err)
		}
		return frame, nil
	case FrameDrain:
		frame := &DrainFrame{}
		if err := json.Unmarshal(payload, frame); err != nil {
			return nil, fmt.Errorf("failed to decode drain frame: %w", err)
		}
		return frame, nil
	default:
		return nil, fmt.Errorf("unknown control frame kind %q", probe.Kind)
	}
}
