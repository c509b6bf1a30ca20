package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/coeditd/coeditd/internal/server/handlers"
	"github.com/coeditd/coeditd/internal/validation"
)

// Hub owns the per-document session actors. Documents are fully
// independent: each actor runs on its own goroutine and shares no state
// with the others.
type Hub struct {
	logger   *slog.Logger
	store    DocumentReader
	log      LogStore
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub creates a session hub.
func NewHub(store DocumentReader, log LogStore, logger *slog.Logger) *Hub {
	return &Hub{
		logger:   logger,
		store:    store,
		log:      log,
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// session returns the live actor for a document, starting one if needed.
func (h *Hub) session(ctx context.Context, documentID string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[documentID]; ok {
		return s
	}

	var s *Session
	s = NewSession(documentID, h.store, h.log, h.logger, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.sessions[documentID] == s {
			delete(h.sessions, documentID)
		}
	})
	h.sessions[documentID] = s
	go s.Run(ctx)
	return s
}

// Join admits a peer to a document session, retrying once if it raced
// with an actor that was shutting down.
func (h *Hub) Join(ctx context.Context, documentID string, peer *Peer) *Session {
	for i := 0; i < 2; i++ {
		s := h.session(ctx, documentID)
		if s.Join(peer) {
			return s
		}
		// the actor exited between lookup and join; drop it and retry
		h.mu.Lock()
		if h.sessions[documentID] == s {
			delete(h.sessions, documentID)
		}
		h.mu.Unlock()
	}
	return nil
}

// ServeWS handles GET /api/v1/documents/{id}/ws: upgrades the connection
// and attaches the peer to the document's session actor.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := handlers.GetUserID(ctx)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	username, _ := handlers.GetUsername(ctx)

	documentID := r.PathValue("id")
	if err := validation.ValidateDocumentID(documentID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	peer := NewPeer(userID, username, conn)

	// the actor outlives this request; it must not inherit its deadline
	s := h.Join(context.WithoutCancel(ctx), documentID, peer)
	if s == nil {
		h.logger.Error("Failed to join session", "document_id", documentID)
		_ = conn.Close()
		return
	}

	go peer.writePump(h.logger)
	go peer.readPump(s, h.logger)
}
