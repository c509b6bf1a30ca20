package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientapi "github.com/coeditd/coeditd/internal/client/api"
)

func (c *Cli) runGet(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing document ID. Usage: coedit get <id>")
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

	c.io.Printf("Document: %s\n", doc.ID)
	c.io.Printf("Version:  %d\n", doc.Version)
	c.io.Printf("Updated:  %s\n", doc.UpdatedAt.Format(time.RFC3339))
	c.io.Printf("Source:   %s\n", doc.ContentSource)
	c.io.Println()

	for i, block := range doc.Content {
		c.io.Printf("[%d] %s: %s\n", i, block.Type, string(block.Payload))
	}
	if len(doc.Content) == 0 {
		c.io.Println("(empty document)")
	}

	return nil
}
