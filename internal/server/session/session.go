package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coeditd/coeditd/internal/models"
	"github.com/coeditd/coeditd/internal/reconcile"
	"github.com/coeditd/coeditd/internal/server/replica"
)

// State is the lifecycle of a document session actor.
type State int

// Session states. Reconciling is the only state where the baseline choice
// runs; it always completes before the first peer delta is applied.
const (
	Disconnected State = iota
	Reconciling
	Live
)

// DocumentReader provides the versioned-store row at connect time.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// LogStore provides the replicated update log.
type LogStore interface {
	AppendEntry(ctx context.Context, documentID string, payload []byte, createdAt time.Time) (*models.LogEntry, error)
	ReplayEntries(ctx context.Context, documentID string) ([]*models.LogEntry, error)
	TailTimestamp(ctx context.Context, documentID string) (*time.Time, error)
}

// serverNodeID marks deltas produced by the session itself (baselines).
const serverNodeID = "server"

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdDelta
	cmdControl
)

type command struct {
	peer    *Peer
	payload []byte
	kind    commandKind
}

// Session is the single actor owning one document's live collaboration:
// an in-memory replica, the connected peers, and the only goroutine that
// ever touches either. All replay and delta-apply work is sequential,
// which is what gives the replica a well-defined history.
type Session struct {
	documentID string
	logger     *slog.Logger
	store      DocumentReader
	log        LogStore

	rep      replica.Replica
	state    State
	peers    map[*Peer]struct{}
	draining map[string]bool // user ids currently draining an offline queue

	inbox   chan command
	done    chan struct{}
	onEmpty func()
	nowFunc func() time.Time
}

// NewSession creates a session actor for one document. onEmpty is called
// once, after the last peer leaves and the actor has shut down.
func NewSession(documentID string, store DocumentReader, log LogStore, logger *slog.Logger, onEmpty func()) *Session {
	return &Session{
		documentID: documentID,
		logger:     logger,
		store:      store,
		log:        log,
		state:      Disconnected,
		peers:      make(map[*Peer]struct{}),
		draining:   make(map[string]bool),
		inbox:      make(chan command, 256),
		done:       make(chan struct{}),
		onEmpty:    onEmpty,
		nowFunc:    time.Now,
	}
}

// State returns the current lifecycle state. Only safe to call from tests
// or after the actor has stopped.
func (s *Session) State() State {
	return s.state
}

// Join registers a peer. Returns false if the actor has already shut down;
// the caller should retry against a fresh session.
func (s *Session) Join(peer *Peer) bool {
	return s.submit(command{kind: cmdJoin, peer: peer})
}

// Leave unregisters a peer.
func (s *Session) Leave(peer *Peer) {
	s.submit(command{kind: cmdLeave, peer: peer})
}

// SubmitDelta queues one binary delta frame from a peer.
func (s *Session) SubmitDelta(peer *Peer, payload []byte) {
	s.submit(command{kind: cmdDelta, peer: peer, payload: payload})
}

// SubmitControl queues one text control frame from a peer.
func (s *Session) SubmitControl(peer *Peer, payload []byte) {
	s.submit(command{kind: cmdControl, peer: peer, payload: payload})
}

func (s *Session) submit(cmd command) bool {
	select {
	case <-s.done:
		return false
	case s.inbox <- cmd:
		return true
	}
}

// Run processes commands until the last peer leaves or the context is
// cancelled. Must be called exactly once, on its own goroutine.
func (s *Session) Run(ctx context.Context) {
	defer func() {
		close(s.done)
		for peer := range s.peers {
			peer.closeSend()
		}
		s.rep = nil
		s.state = Disconnected
		if s.onEmpty != nil {
			s.onEmpty()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.inbox:
			switch cmd.kind {
			case cmdJoin:
				if err := s.handleJoin(ctx, cmd.peer); err != nil {
					s.logger.Error("Failed to admit peer",
						"document_id", s.documentID,
						"peer_id", cmd.peer.ID,
						"error", err)
					cmd.peer.closeSend()
				}
			case cmdLeave:
				if s.handleLeave(cmd.peer) {
					return
				}
			case cmdDelta:
				if s.handleDelta(ctx, cmd.peer, cmd.payload) {
					return
				}
			case cmdControl:
				s.handleControl(cmd.peer, cmd.payload)
			}
		}
	}
}

// handleJoin admits a peer, running reconciliation first if this is the
// first connection for the document.
func (s *Session) handleJoin(ctx context.Context, peer *Peer) error {
	if s.state == Disconnected {
		s.state = Reconciling
		if err := s.reconcile(ctx); err != nil {
			s.state = Disconnected
			return fmt.Errorf("reconciliation failed: %w", err)
		}
		s.state = Live
	}

	snapshot, err := s.snapshotFrame()
	if err != nil {
		return err
	}

	s.peers[peer] = struct{}{}
	if !peer.deliver(snapshot) {
		delete(s.peers, peer)
		return fmt.Errorf("peer %s cannot accept the initial snapshot", peer.ID)
	}

	s.logger.Info("Peer joined",
		"document_id", s.documentID,
		"peer_id", peer.ID,
		"user_id", peer.UserID,
		"peers", len(s.peers))

	s.broadcastPresence(peer, &PresenceFrame{
		Kind:     FramePresence,
		UserID:   peer.UserID,
		Username: peer.Username,
	})
	return nil
}

// reconcile decides the session baseline: replayed log state or the
// versioned store row, per the shared policy. On UseStore the stale log is
// superseded by a fresh baseline entry so future replays converge.
func (s *Session) reconcile(ctx context.Context) error {
	doc, err := s.store.GetDocument(ctx, s.documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	tail, err := s.log.TailTimestamp(ctx, s.documentID)
	if err != nil {
		return fmt.Errorf("failed to read log tail: %w", err)
	}

	rep := replica.NewBlockReplica()

	switch reconcile.Choose(tail, doc.UpdatedAt) {
	case reconcile.UseStore:
		// the log is stale: do not replay it; seed from the store and
		// append a baseline entry so the log catches up
		rep.Seed(doc.Content, doc.UpdatedAt.UnixMilli(), serverNodeID)

		baseline, err := replica.EncodeDelta(&replica.Delta{
			Kind:      replica.KindBaseline,
			NodeID:    serverNodeID,
			Baseline:  doc.Content,
			Timestamp: doc.UpdatedAt.UnixMilli(),
		})
		if err != nil {
			return err
		}

		now := s.nowFunc()
		if now.Before(doc.UpdatedAt) {
			now = doc.UpdatedAt
		}
		if _, err := s.log.AppendEntry(ctx, s.documentID, baseline, now); err != nil {
			return fmt.Errorf("failed to append baseline entry: %w", err)
		}

		s.logger.Info("Session baseline from store",
			"document_id", s.documentID,
			"version", doc.Version)
	case reconcile.UseLog:
		entries, err := s.log.ReplayEntries(ctx, s.documentID)
		if err != nil {
			return fmt.Errorf("failed to replay log: %w", err)
		}
		for _, entry := range entries {
			if err := rep.ApplyPayload(entry.Payload); err != nil {
				return fmt.Errorf("failed to apply log entry %d: %w", entry.SequenceNo, err)
			}
		}

		s.logger.Info("Session baseline from log",
			"document_id", s.documentID,
			"entries", len(entries))
	}

	s.rep = rep
	return nil
}

// snapshotFrame encodes the replica as a baseline delta for a new peer.
func (s *Session) snapshotFrame() (Frame, error) {
	payload, err := replica.EncodeDelta(&replica.Delta{
		Kind:      replica.KindBaseline,
		NodeID:    serverNodeID,
		Baseline:  s.rep.Snapshot(),
		Timestamp: s.rep.Clock(),
	})
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return Frame{Type: FrameSnapshot, Payload: payload}, nil
}

// handleLeave reports whether the session is now empty and should stop.
func (s *Session) handleLeave(peer *Peer) bool {
	if _, ok := s.peers[peer]; !ok {
		return false
	}

	delete(s.peers, peer)
	delete(s.draining, peer.UserID)
	peer.closeSend()

	s.logger.Info("Peer left",
		"document_id", s.documentID,
		"peer_id", peer.ID,
		"peers", len(s.peers))

	s.broadcastPresence(peer, &PresenceFrame{
		Kind:   FramePresence,
		UserID: peer.UserID,
		Left:   true,
	})

	return len(s.peers) == 0
}

// handleDelta applies one peer delta to the replica, persists it and
// broadcasts it. Strictly sequential per document. Reports whether the
// session emptied out because slow peers had to be dropped.
func (s *Session) handleDelta(ctx context.Context, peer *Peer, payload []byte) bool {
	if s.state != Live {
		return false
	}
	if _, ok := s.peers[peer]; !ok {
		return false
	}

	delta, err := replica.DecodeDelta(payload)
	if err != nil {
		s.logger.Warn("Dropping malformed delta",
			"document_id", s.documentID,
			"peer_id", peer.ID,
			"error", err)
		return false
	}

	// a full-document reset must not stomp on a client that is replaying
	// its offline queue against the versioned store
	if delta.Kind == replica.KindBaseline && s.drainActive() {
		s.logger.Warn("Deferring baseline reset while an offline queue drains",
			"document_id", s.documentID,
			"peer_id", peer.ID)
		return false
	}

	if err := s.rep.ApplyDelta(delta); err != nil {
		s.logger.Warn("Failed to apply delta",
			"document_id", s.documentID,
			"peer_id", peer.ID,
			"error", err)
		return false
	}

	if _, err := s.log.AppendEntry(ctx, s.documentID, payload, s.nowFunc()); err != nil {
		s.logger.Error("Failed to persist delta",
			"document_id", s.documentID,
			"error", err)
		// the replica already advanced; the entry is lost only if the
		// process dies before another append succeeds
	}

	frame := Frame{Type: FrameDelta, Payload: payload}
	var slow []*Peer
	for other := range s.peers {
		if other == peer {
			continue
		}
		if !other.deliver(frame) {
			s.logger.Warn("Dropping slow peer",
				"document_id", s.documentID,
				"peer_id", other.ID)
			slow = append(slow, other)
		}
	}

	stop := false
	for _, p := range slow {
		if s.handleLeave(p) {
			stop = true
		}
	}
	return stop
}

// handleControl processes presence and drain control frames.
func (s *Session) handleControl(peer *Peer, payload []byte) {
	if _, ok := s.peers[peer]; !ok {
		return
	}

	frame, err := decodeControl(payload)
	if err != nil {
		s.logger.Warn("Dropping malformed control frame",
			"document_id", s.documentID,
			"peer_id", peer.ID,
			"error", err)
		return
	}

	switch f := frame.(type) {
	case *PresenceFrame:
		f.UserID = peer.UserID // never trust the client's identity claim
		f.Username = peer.Username
		s.broadcastPresence(peer, f)
	case *DrainFrame:
		if f.Active {
			s.draining[peer.UserID] = true
		} else {
			delete(s.draining, peer.UserID)
		}
		s.logger.Info("Drain flag updated",
			"document_id", s.documentID,
			"user_id", peer.UserID,
			"active", f.Active)
	}
}

// drainActive reports whether any connected user is draining a queue.
func (s *Session) drainActive() bool {
	return len(s.draining) > 0
}

// broadcastPresence sends a presence frame to every peer except origin.
func (s *Session) broadcastPresence(origin *Peer, frame *PresenceFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("Failed to encode presence frame", "error", err)
		return
	}

	out := Frame{Type: FramePresence, Payload: payload}
	for peer := range s.peers {
		if peer == origin {
			continue
		}
		// presence is ephemeral: losing a frame to a full buffer is fine
		peer.deliver(out)
	}
}
