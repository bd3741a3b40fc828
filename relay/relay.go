// Package relay implements the typed HTTP contract to the relay server.
// The relay is an untrusted, blind forwarder: every payload it handles
// is an opaque cipher bundle.
package relay

import "context"

// Meta is the unencrypted routing metadata that travels with a cipher
// bundle. Type is "share" when empty.
type Meta struct {
	Type               string `json:"type,omitempty"`
	TargetOrigin       string `json:"targetOrigin"`
	TargetPath         string `json:"targetPath,omitempty"`
	Sender             string `json:"sender,omitempty"`
	SessionDurationSec int    `json:"sessionDurationSec,omitempty"`
	Comment            string `json:"comment,omitempty"`
	SessionID          string `json:"sessionId,omitempty"`
}

// TypeRevoke marks an inbox item instructing immediate logout of the
// target origin; it carries no cipher payload.
const TypeRevoke = "revoke"

// IsRevoke reports whether the item instructs a revoke.
func (m Meta) IsRevoke() bool { return m.Type == TypeRevoke }

// InboxItem is one relay-queued delivery for a recipient.
type InboxItem struct {
	ID     string `json:"id"`
	Cipher string `json:"cipher,omitempty"`
	Meta   Meta   `json:"meta"`
}

// PushRequest enqueues a cipher bundle into a recipient's inbox.
type PushRequest struct {
	Recipient string `json:"recipient"`
	Cipher    string `json:"cipher,omitempty"`
	Alg       string `json:"alg,omitempty"`
	Cmp       string `json:"cmp,omitempty"`
	TTLSec    int    `json:"ttlSec,omitempty"`
	Meta      Meta   `json:"meta"`
}

// Share is a link-addressed pending delivery.
type Share struct {
	Cipher string `json:"cipher"`
	Meta   Meta   `json:"meta"`
}

// PendingRequest is an access request awaiting admin review.
type PendingRequest struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Origin    string `json:"origin,omitempty"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// Client is the relay operations surface consumed by the protocol core.
// Every call is time-bounded and returns a *TransportError for network
// failures or an *APIError for non-2xx responses.
type Client interface {
	// Register registers or rotates the identity for username and
	// returns the auth secret issued by the relay. existingAuthSecret
	// may be empty on first registration.
	Register(ctx context.Context, username, publicKey, existingAuthSecret string) (string, error)
	// FetchUserKey returns the registered public key for username.
	FetchUserKey(ctx context.Context, username string) (string, error)
	Push(ctx context.Context, req PushRequest) error
	PollInbox(ctx context.Context, recipient string, limit int) ([]InboxItem, error)
	AckInbox(ctx context.Context, recipient string, ids []string) error
	FetchShare(ctx context.Context, token string) (Share, error)
	// ConsumeShare marks a one-shot link token as spent.
	ConsumeShare(ctx context.Context, token string) error
	// MarkSessionAccepted is best-effort bookkeeping; callers tolerate
	// failure.
	MarkSessionAccepted(ctx context.Context, sessionID string) error
	PollRequests(ctx context.Context, username, authSecret string, limit int) ([]PendingRequest, error)
}
