package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coeditd/coeditd/internal/models"
	"github.com/coeditd/coeditd/internal/reconcile"
	"github.com/coeditd/coeditd/internal/server/replica"
	"github.com/coeditd/coeditd/internal/server/storage"
	"github.com/coeditd/coeditd/internal/validation"
	"github.com/coeditd/coeditd/pkg/api"
)

// DocumentStorage defines the store operations the document handler needs
type DocumentStorage interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	CASUpdate(ctx context.Context, id string, baseVersion uint64, content []models.ContentBlock, now time.Time) (*models.WriteResult, error)
}

// LogStorage defines the update-log operations the read path needs
type LogStorage interface {
	ReplayEntries(ctx context.Context, documentID string) ([]*models.LogEntry, error)
	TailTimestamp(ctx context.Context, documentID string) (*time.Time, error)
}

// IdempotencyStorage defines the idempotency cache operations
type IdempotencyStorage interface {
	GetResult(ctx context.Context, opID string) (*models.WriteResult, error)
	PutResult(ctx context.Context, opID string, result *models.WriteResult, recordedAt time.Time) error
}

// DocumentHandler serves the versioned REST surface of a document:
// create, read (policy-arbitrated) and the idempotent CAS save.
type DocumentHandler struct {
	logger  *slog.Logger
	store   DocumentStorage
	log     LogStorage
	idem    IdempotencyStorage
	nowFunc func() time.Time
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(logger *slog.Logger, store DocumentStorage, log LogStorage, idem IdempotencyStorage) *DocumentHandler {
	return &DocumentHandler{
		logger:  logger,
		store:   store,
		log:     log,
		idem:    idem,
		nowFunc: time.Now,
	}
}

// HandleCreate handles POST /api/v1/documents
func (h *DocumentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode create request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	content, err := contentFromAPI(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc := &models.Document{
		ID:        uuid.New().String(),
		Content:   content,
		Version:   1,
		UpdatedAt: h.nowFunc(),
	}

	if err := h.store.CreateDocument(ctx, doc); err != nil {
		h.logger.Error("Failed to create document", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("Document created", "document_id", doc.ID, "user_id", userID)

	writeJSON(w, http.StatusCreated, api.CreateDocumentResponse{
		ID:      doc.ID,
		Version: doc.Version,
	})
}

// HandleGet handles GET /api/v1/documents/{id}
// The response content is chosen by the reconciliation policy: the same
// rule the collaboration session applies at connect time.
func (h *DocumentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := GetUserID(ctx); !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	documentID := r.PathValue("id")
	if err := validation.ValidateDocumentID(documentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		h.logger.Error("Failed to get document", "error", err, "document_id", documentID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	tail, err := h.log.TailTimestamp(ctx, documentID)
	if err != nil {
		h.logger.Error("Failed to get log tail", "error", err, "document_id", documentID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	source := reconcile.Choose(tail, doc.UpdatedAt)
	content := doc.Content

	if source == reconcile.UseLog {
		entries, err := h.log.ReplayEntries(ctx, documentID)
		if err != nil {
			h.logger.Error("Failed to replay log", "error", err, "document_id", documentID)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		payloads := make([][]byte, len(entries))
		for i, entry := range entries {
			payloads[i] = entry.Payload
		}

		content, err = replica.Materialize(payloads)
		if err != nil {
			h.logger.Error("Failed to materialize log content", "error", err, "document_id", documentID)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	writeJSON(w, http.StatusOK, api.DocumentResponse{
		ID:            doc.ID,
		Content:       contentToAPI(content),
		Version:       doc.Version,
		UpdatedAt:     doc.UpdatedAt,
		ContentSource: source.String(),
	})
}

// HandleSave handles PATCH /api/v1/documents/{id}
// The idempotency cache is consulted before, and written after, the CAS
// update, so retried op_ids are answered without touching the row again.
func (h *DocumentHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	documentID := r.PathValue("id")
	if err := validation.ValidateDocumentID(documentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req api.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode save request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validation.ValidateOpID(req.OpID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// the header is the idempotency contract; it must agree with the body
	if key := r.Header.Get(api.IdempotencyKeyHeader); key != "" && key != req.OpID {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header does not match op_id")
		return
	}

	content, err := contentFromAPI(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	write := &models.WriteRequest{
		ClientTimestamp: req.ClientTimestamp,
		DocumentID:      documentID,
		OpID:            req.OpID,
		Content:         content,
		BaseVersion:     req.BaseVersion,
	}

	// replay of an op we already answered: return the recorded result
	// without touching the store
	if cached, err := h.idem.GetResult(ctx, write.OpID); err == nil {
		h.logger.Info("Replayed idempotent save",
			"op_id", write.OpID,
			"document_id", write.DocumentID,
			"status", cached.Status)
		h.writeResult(w, cached)
		return
	} else if !errors.Is(err, storage.ErrRecordNotFound) {
		h.logger.Error("Failed to check idempotency cache", "error", err, "op_id", write.OpID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result, err := h.store.CASUpdate(ctx, write.DocumentID, write.BaseVersion, write.Content, h.nowFunc())
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		h.logger.Error("CAS update failed", "error", err, "document_id", write.DocumentID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// record the outcome, accepted or conflict, for future replays
	if err := h.idem.PutResult(ctx, write.OpID, result, h.nowFunc()); err != nil {
		h.logger.Error("Failed to record idempotency result", "error", err, "op_id", write.OpID)
	}

	h.logger.Info("Save processed",
		"op_id", write.OpID,
		"document_id", write.DocumentID,
		"user_id", userID,
		"base_version", write.BaseVersion,
		"status", result.Status)

	h.writeResult(w, result)
}

// writeResult maps a WriteResult to its HTTP shape: 200 accepted, 409 conflict
func (h *DocumentHandler) writeResult(w http.ResponseWriter, result *models.WriteResult) {
	if result.Accepted() {
		writeJSON(w, http.StatusOK, api.SaveAccepted{NewVersion: result.NewVersion})
		return
	}

	writeJSON(w, http.StatusConflict, api.SaveConflict{
		LatestVersion:   result.LatestVersion,
		LatestContent:   contentToAPI(result.LatestContent),
		LatestUpdatedAt: result.LatestUpdatedAt,
	})
}

// contentFromAPI converts and validates wire blocks
func contentFromAPI(blocks []api.ContentBlock) ([]models.ContentBlock, error) {
	content := make([]models.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if err := validation.ValidateBlockType(b.Type); err != nil {
			return nil, err
		}
		content = append(content, models.ContentBlock{Type: b.Type, Payload: b.Payload})
	}
	return content, nil
}

// contentToAPI converts model blocks to the wire shape
func contentToAPI(blocks []models.ContentBlock) []api.ContentBlock {
	out := make([]api.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, api.ContentBlock{Type: b.Type, Payload: b.Payload})
	}
	return out
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
