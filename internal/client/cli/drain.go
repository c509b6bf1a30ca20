package cli

import (
	"context"
	"fmt"

	"github.com/coeditd/coeditd/internal/client/autosave"
	"github.com/coeditd/coeditd/internal/models"
)

func (c *Cli) runDrain(ctx context.Context) error {
	if err := c.loadIdentity(ctx); err != nil {
		return err
	}

	pending, err := c.store.Len(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	if pending == 0 {
		c.io.Println("Offline queue is empty")
		return nil
	}

	c.io.Printf("Draining %d queued save(s)...\n", pending)

	coordinator := autosave.New("", 0, c.client, c.store, c.logger, autosave.Config{})
	coordinator.OnFatal = func(entry *models.OfflineQueueEntry, err error) {
		c.io.Printf("Gave up on %s (document %s, %d retries): %v\n",
			entry.OpID, entry.DocumentID, entry.RetryCount, err)
	}

	go coordinator.Run(ctx)
	defer coordinator.Stop()

	if err := coordinator.Drain(ctx); err != nil {
		remaining, lenErr := c.store.Len(ctx)
		if lenErr == nil {
			c.io.Printf("%d save(s) still queued\n", remaining)
		}
		return fmt.Errorf("drain interrupted: %w", err)
	}

	c.io.Println("Offline queue drained")
	return nil
}
