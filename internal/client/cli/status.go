package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/coeditd/coeditd/internal/client/storage"
)

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Client Status ===")
	c.io.Println()

	identity, err := c.store.GetIdentity(ctx)
	if err != nil {
		if err == storage.ErrIdentityNotFound {
			c.io.Println("Not logged in")
			c.io.Println()
			c.io.Println("Run 'coedit login' to store an identity.")
			return nil
		}
		return fmt.Errorf("failed to load identity: %w", err)
	}

	c.io.Printf("User:    %s (%s)\n", identity.Username, identity.UserID)
	c.io.Printf("Node:    %s\n", identity.NodeID)
	c.io.Println()

	entries, err := c.store.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}

	if len(entries) == 0 {
		c.io.Println("Offline queue: empty")
		return nil
	}

	c.io.Printf("Offline queue: %d pending save(s)\n", len(entries))
	for _, entry := range entries {
		c.io.Printf("  %s  document %s  base %d  queued %s  retries %d\n",
			entry.OpID, entry.DocumentID, entry.BaseVersion,
			entry.EnqueueTime.Format(time.RFC3339), entry.RetryCount)
	}
	c.io.Println()
	c.io.Println("Run 'coedit drain' to flush the queue.")

	return nil
}
