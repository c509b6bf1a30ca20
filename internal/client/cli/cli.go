package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coeditd/coeditd/internal/client/api"
	"github.com/coeditd/coeditd/internal/client/iocli"
	"github.com/coeditd/coeditd/internal/client/storage"
	"github.com/coeditd/coeditd/internal/client/storage/boltdb"
)

type Cli struct {
	io       iocli.IO
	client   *api.Client
	store    *boltdb.Storage
	logger   *slog.Logger
	identity *storage.Identity
}

func New(client *api.Client, store *boltdb.Storage, io iocli.IO, logger *slog.Logger) *Cli {
	return &Cli{
		io:     io,
		client: client,
		store:  store,
		logger: logger,
	}
}

// loadIdentity reads the stored node identity and arms the HTTP client
// with its token. Every command except login goes through here.
func (c *Cli) loadIdentity(ctx context.Context) error {
	identity, err := c.store.GetIdentity(ctx)
	if err != nil {
		if err == storage.ErrIdentityNotFound {
			return fmt.Errorf("not logged in. Please run 'coedit login' first")
		}
		return fmt.Errorf("failed to load identity: %w", err)
	}

	c.identity = identity
	c.client.SetToken(identity.AccessToken)
	return nil
}

func PrintUsage() {
	fmt.Println("coedit client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  coedit [OPTIONS] COMMAND")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version       Show version information")
	fmt.Println("  --server URL    Server URL (default: http://localhost:8080)")
	fmt.Println("  --db PATH       Path to local database (default: coedit-client.db)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  login <user-id> <username>   Store node identity and access token")
	fmt.Println("  logout                       Remove stored identity")
	fmt.Println("  create                       Create a new document")
	fmt.Println("  get <id>                     Fetch a document")
	fmt.Println("  edit <id>                    Edit a document with autosave")
	fmt.Println("  drain                        Flush the offline save queue")
	fmt.Println("  status                       Show identity and pending saves")
	fmt.Println()
	fmt.Println("The access token is read from the COEDIT_TOKEN environment")
	fmt.Println("variable, or prompted for interactively during login.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  export COEDIT_TOKEN='...'")
	fmt.Println("  coedit login user-1 alice")
	fmt.Println("  coedit create")
	fmt.Println("  coedit edit b692f5c0-2d88-4aa1-a9e1-13aa6e4976d5")
	fmt.Println("  coedit --server https://example.com status")
}
