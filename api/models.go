package api

import (
	"time"

	"github.com/publicpass/publicpass/relay"
)

// Storage buckets.
const (
	bucketUsers    = "users"
	bucketInbox    = "inbox"
	bucketShares   = "shares"
	bucketSessions = "sessions"
	bucketRequests = "requests"
)

const defaultTTL = 600 * time.Second

// userRecord is a registered identity.
type userRecord struct {
	PublicKey  string `json:"publicKey"`
	AuthSecret string `json:"authSecret"`
}

// inboxRecord is one queued delivery. The cipher is opaque.
type inboxRecord struct {
	ID        string     `json:"id"`
	Cipher    string     `json:"cipher,omitempty"`
	Alg       string     `json:"alg,omitempty"`
	Cmp       string     `json:"cmp,omitempty"`
	Meta      relay.Meta `json:"meta"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// shareRecord is a link-addressed pending delivery.
type shareRecord struct {
	Cipher    string     `json:"cipher"`
	Alg       string     `json:"alg,omitempty"`
	Cmp       string     `json:"cmp,omitempty"`
	Meta      relay.Meta `json:"meta"`
	Consumed  bool       `json:"consumed"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// sessionRecord tracks best-effort acceptance bookkeeping.
type sessionRecord struct {
	AcceptedAt time.Time `json:"acceptedAt"`
}

type registerRequest struct {
	PublicKey  string `json:"publicKey" validate:"required,base64"`
	AuthSecret string `json:"authSecret,omitempty"`
}

type registerResponse struct {
	AuthSecret string `json:"authSecret"`
}

type userKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// pushRequest carries a sealed bundle, except for revoke pushes which
// have no payload; the handler enforces cipher presence per type.
type pushRequest struct {
	Recipient string     `json:"recipient" validate:"required"`
	Cipher    string     `json:"cipher,omitempty"`
	Alg       string     `json:"alg,omitempty"`
	Cmp       string     `json:"cmp,omitempty"`
	TTLSec    int        `json:"ttlSec" validate:"gte=0"`
	Meta      relay.Meta `json:"meta"`
}

type pushResponse struct {
	ID string `json:"id"`
}

type pollResponse struct {
	Items []relay.InboxItem `json:"items"`
}

type ackRequest struct {
	Recipient string   `json:"recipient" validate:"required"`
	IDs       []string `json:"ids" validate:"required,min=1"`
}

type createShareRequest struct {
	Cipher string     `json:"cipher" validate:"required"`
	Alg    string     `json:"alg,omitempty"`
	Cmp    string     `json:"cmp,omitempty"`
	TTLSec int        `json:"ttlSec" validate:"gte=0"`
	Meta   relay.Meta `json:"meta"`
}

type createShareResponse struct {
	Token string `json:"token"`
}

type shareResponse struct {
	Cipher string     `json:"cipher"`
	Meta   relay.Meta `json:"meta"`
}

type createRequestRequest struct {
	Username string `json:"username" validate:"required"`
	Origin   string `json:"origin,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

type requestsResponse struct {
	Items []relay.PendingRequest `json:"items"`
}
