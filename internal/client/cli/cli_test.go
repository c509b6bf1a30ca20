package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientapi "github.com/coeditd/coeditd/internal/client/api"
	"github.com/coeditd/coeditd/internal/client/storage"
	"github.com/coeditd/coeditd/internal/client/storage/boltdb"
	"github.com/coeditd/coeditd/internal/models"
	"github.com/coeditd/coeditd/pkg/api"
)

// fakeIO captures output and feeds scripted input lines.
type fakeIO struct {
	mu     sync.Mutex
	out    strings.Builder
	inputs []string
}

func (f *fakeIO) Println(a ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out.WriteString(fmt.Sprintln(a...))
}

func (f *fakeIO) Printf(format string, a ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(&f.out, format, a...)
}

func (f *fakeIO) ReadInput(string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		return "", io.EOF
	}
	line := f.inputs[0]
	f.inputs = f.inputs[1:]
	return line, nil
}

func (f *fakeIO) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}

func (f *fakeIO) output() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

func setupCli(t *testing.T, serverURL string) (*Cli, *fakeIO, *boltdb.Storage) {
	t.Helper()

	store, err := boltdb.New(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	out := &fakeIO{}
	client := clientapi.NewClient(serverURL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, store, out, logger), out, store
}

func login(t *testing.T, store *boltdb.Storage) {
	t.Helper()
	require.NoError(t, store.SaveIdentity(context.Background(), &storage.Identity{
		NodeID:      "node-1",
		UserID:      "user-1",
		Username:    "alice",
		AccessToken: "token",
	}))
}

func TestRunGetPrintsDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.DocumentResponse{
			ID:            "doc-1",
			Version:       3,
			UpdatedAt:     time.Now(),
			ContentSource: api.ContentSourceLog,
			Content:       []api.ContentBlock{{Type: "paragraph", Payload: json.RawMessage(`{"text":"hi"}`)}},
		})
	}))
	defer server.Close()

	c, out, store := setupCli(t, server.URL)
	login(t, store)

	require.NoError(t, c.runGet(context.Background(), []string{"doc-1"}))
	assert.Contains(t, out.output(), "Document: doc-1")
	assert.Contains(t, out.output(), "Version:  3")
	assert.Contains(t, out.output(), "Source:   log")
	assert.Contains(t, out.output(), `{"text":"hi"}`)
}

func TestRunGetRequiresLogin(t *testing.T) {
	c, _, _ := setupCli(t, "http://localhost:0")

	err := c.runGet(context.Background(), []string{"doc-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestRunEditSavesTypedLines(t *testing.T) {
	var mu sync.Mutex
	var saved *api.SaveRequest

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.DocumentResponse{ID: "doc-1", Version: 2})
	})
	mux.HandleFunc("PATCH /api/v1/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req api.SaveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		saved = &req
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.SaveAccepted{NewVersion: req.BaseVersion + 1})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c, out, store := setupCli(t, server.URL)
	login(t, store)

	c.io.(*fakeIO).inputs = []string{"hello world", "."}

	require.NoError(t, c.runEdit(context.Background(), []string{"doc-1"}))
	assert.Contains(t, out.output(), "All changes saved.")

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, saved, "the typed line must reach the server")
	assert.Equal(t, uint64(2), saved.BaseVersion)
	require.Len(t, saved.Content, 1)
	assert.JSONEq(t, `{"text":"hello world"}`, string(saved.Content[0].Payload))
}

func TestRunStatusListsQueue(t *testing.T) {
	c, out, store := setupCli(t, "http://localhost:0")
	login(t, store)

	require.NoError(t, store.Enqueue(context.Background(), &models.OfflineQueueEntry{
		OpID:        "op-1",
		DocumentID:  "doc-1",
		BaseVersion: 4,
		EnqueueTime: time.Now(),
	}))

	require.NoError(t, c.runStatus(context.Background()))
	assert.Contains(t, out.output(), "alice")
	assert.Contains(t, out.output(), "1 pending save(s)")
	assert.Contains(t, out.output(), "op-1")
}

func TestRunDrainFlushesQueue(t *testing.T) {
	var mu sync.Mutex
	var opIDs []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.SaveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		opIDs = append(opIDs, req.OpID)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.SaveAccepted{NewVersion: req.BaseVersion + 1})
	}))
	defer server.Close()

	c, out, store := setupCli(t, server.URL)
	login(t, store)

	ctx := context.Background()
	for i, opID := range []string{"op-1", "op-2"} {
		require.NoError(t, store.Enqueue(ctx, &models.OfflineQueueEntry{
			OpID:        opID,
			DocumentID:  "doc-1",
			BaseVersion: uint64(4 + i),
			EnqueueTime: time.Now(),
		}))
	}

	require.NoError(t, c.runDrain(ctx))
	assert.Contains(t, out.output(), "Offline queue drained")

	mu.Lock()
	assert.Equal(t, []string{"op-1", "op-2"}, opIDs)
	mu.Unlock()

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunLoginStoresIdentity(t *testing.T) {
	c, out, store := setupCli(t, "http://localhost:0")
	t.Setenv("COEDIT_TOKEN", "env-token")

	require.NoError(t, c.runLogin(context.Background(), []string{"user-1", "alice"}))
	assert.Contains(t, out.output(), "Logged in as alice")

	identity, err := store.GetIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-token", identity.AccessToken)
	assert.NotEmpty(t, identity.NodeID)

	// a second login keeps the node id
	require.NoError(t, c.runLogin(context.Background(), []string{"user-1", "alice"}))
	again, err := store.GetIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, identity.NodeID, again.NodeID)
}
