package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the deadline for a single websocket write
	writeWait = 10 * time.Second
	// pongWait is how long we wait for a pong before dropping the peer
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds a single inbound frame
	maxMessageSize = 1 << 20
	// sendBufferSize bounds the per-peer outbound queue; a peer that cannot
	// keep up is dropped rather than blocking the document actor
	sendBufferSize = 64
)

// Peer is one connected editor of one document.
type Peer struct {
	ID       string
	UserID   string
	Username string

	send chan Frame
	conn *websocket.Conn
}

// NewPeer creates a peer for a verified user.
func NewPeer(userID, username string, conn *websocket.Conn) *Peer {
	return &Peer{
		ID:       uuid.New().String(),
		UserID:   userID,
		Username: username,
		conn:     conn,
		send:     make(chan Frame, sendBufferSize),
	}
}

// deliver queues a frame for the peer without blocking the caller.
// Returns false when the peer's buffer is full.
func (p *Peer) deliver(frame Frame) bool {
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue, which terminates the write pump.
func (p *Peer) closeSend() {
	close(p.send)
}

// readPump reads frames from the websocket into the session inbox.
// Runs on its own goroutine per peer; exits on any read error.
func (p *Peer) readPump(s *Session, logger *slog.Logger) {
	defer s.Leave(p)

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, payload, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Peer read failed", "peer_id", p.ID, "error", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.SubmitDelta(p, payload)
		case websocket.TextMessage:
			s.SubmitControl(p, payload)
		}
	}
}

// writePump writes queued frames to the websocket and keeps the
// connection alive with pings. Runs on its own goroutine per peer.
func (p *Peer) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			messageType := websocket.BinaryMessage
			if frame.Type == FramePresence || frame.Type == FrameDrain {
				messageType = websocket.TextMessage
			}

			if err := p.conn.WriteMessage(messageType, frame.Payload); err != nil {
				logger.Warn("Peer write failed", "peer_id", p.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
