package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	clientapi "github.com/coeditd/coeditd/internal/client/api"
	"github.com/coeditd/coeditd/internal/client/autosave"
	"github.com/coeditd/coeditd/internal/models"
	"github.com/coeditd/coeditd/pkg/api"
)

// runEdit fetches a document and runs an interactive line editor on top
// of the autosave coordinator: each entered line becomes a paragraph
// block and re-submits the whole document. A single "." ends the session.
func (c *Cli) runEdit(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing document ID. Usage: coedit edit <id>")
	}
	documentID := args[0]

	if err := c.loadIdentity(ctx); err != nil {
		return err
	}

	doc, err := c.client.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, clientapi.ErrNotFound) {
			return fmt.Errorf("document not found: %s", documentID)
		}
		return fmt.Errorf("failed to fetch document: %w", err)
	}

	content := contentFromAPI(doc.Content)

	coordinator := autosave.New(documentID, doc.Version, c.client, c.store, c.logger, autosave.Config{})
	coordinator.OnConflict = func(latest *api.SaveConflict) {
		c.io.Printf("\nConflict: document moved to version %d; your next edit starts from it\n", latest.LatestVersion)
	}
	coordinator.OnFatal = func(entry *models.OfflineQueueEntry, err error) {
		c.io.Printf("\nGave up on queued save %s: %v\n", entry.OpID, err)
	}

	go coordinator.Run(ctx)
	defer coordinator.Stop()

	c.io.Printf("Editing %s (version %d, %d blocks). One paragraph per line, \".\" to finish.\n",
		doc.ID, doc.Version, len(content))

	for {
		line, err := c.io.ReadInput("> ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read input: %w", err)
		}
		if line == "." {
			break
		}
		if line == "" {
			continue
		}

		payload, err := json.Marshal(map[string]string{"text": line})
		if err != nil {
			return fmt.Errorf("failed to encode paragraph: %w", err)
		}
		content = append(content, models.ContentBlock{Type: "paragraph", Payload: payload})
		coordinator.Edit(content)
	}

	switch state := coordinator.Sync(ctx); state {
	case autosave.Idle, autosave.Saved:
		c.io.Println("All changes saved.")
	case autosave.Offline:
		c.io.Println("Server unreachable; changes are queued. Run 'coedit drain' when back online.")
	case autosave.Conflict:
		c.io.Println("Unresolved conflict; fetch the document and merge manually.")
	default:
		c.io.Printf("Editor closed in state %s\n", state)
	}

	return nil
}

func contentFromAPI(blocks []api.ContentBlock) []models.ContentBlock {
	out := make([]models.ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = models.ContentBlock{Type: b.Type, Payload: b.Payload}
	}
	return out
}
