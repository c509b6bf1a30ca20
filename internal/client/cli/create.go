package cli

import (
	"context"
	"fmt"

	"github.com/coeditd/coeditd/pkg/api"
)

func (c *Cli) runCreate(ctx context.Context) error {
	if err := c.loadIdentity(ctx); err != nil {
		return err
	}

	resp, err := c.client.CreateDocument(ctx, api.CreateDocumentRequest{})
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	c.io.Printf("Created document %s (version %d)\n", resp.ID, resp.Version)
	return nil
}
