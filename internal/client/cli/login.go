package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/coeditd/coeditd/internal/client/storage"
)

func (c *Cli) runLogin(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("missing arguments. Usage: coedit login <user-id> <username>")
	}
	userID, username := args[0], args[1]

	token := os.Getenv("COEDIT_TOKEN")
	if token == "" {
		var err error
		token, err = c.io.ReadInput("Access token: ")
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
	}
	if token == "" {
		return fmt.Errorf("access token cannot be empty")
	}

	// keep the node id stable across re-logins so delta tiebreaks do not
	// shift under the same machine
	nodeID := uuid.New().String()
	if existing, err := c.store.GetIdentity(ctx); err == nil && existing.NodeID != "" {
		nodeID = existing.NodeID
	}

	identity := &storage.Identity{
		NodeID:      nodeID,
		UserID:      userID,
		Username:    username,
		AccessToken: token,
	}
	if err := c.store.SaveIdentity(ctx, identity); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}

	c.io.Printf("Logged in as %s (node %s)\n", username, nodeID)
	return nil
}

func (c *Cli) runLogout(ctx context.Context) error {
	if err := c.store.DeleteIdentity(ctx); err != nil {
		return fmt.Errorf("failed to remove identity: %w", err)
	}
	c.io.Println("Logged out")
	return nil
}
