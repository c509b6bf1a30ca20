package storage

import "context"

// Identity is the client's stable node identity: who it saves as and how
// it authenticates. The node id seeds delta tiebreaks and must survive
// restarts, so it lives next to the offline queue.
type Identity struct {
	NodeID      string `json:"node_id"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	ServerURL   string `json:"server_url"`
}

// IdentityStorage stores the single node identity record.
type IdentityStorage interface {
	// SaveIdentity stores or replaces the identity
	SaveIdentity(ctx context.Context, identity *Identity) error

	// GetIdentity retrieves the identity.
	// Returns ErrIdentityNotFound if none has been stored.
	GetIdentity(ctx context.Context) (*Identity, error)

	// DeleteIdentity removes the identity (sign-out)
	DeleteIdentity(ctx context.Context) error
}
