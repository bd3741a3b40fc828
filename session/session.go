// Package session defines the canonical session snapshot shape exchanged
// between an admin device and a recipient device: cookies plus web storage
// for a single origin, captured at one point in time.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FormatVersion is the current snapshot wire format version.
const FormatVersion = 1

// ErrNotHTTPPage indicates the capture target is not an http(s) page.
var ErrNotHTTPPage = errors.New("target must be an http(s) page")

// PartitionKey identifies the cookie partition a cookie belongs to.
type PartitionKey struct {
	TopLevelSite string `json:"topLevelSite,omitempty"`
}

// CookieRecord is a single transferable cookie. Domain is empty for
// host-only cookies; DomainFallback carries the host to restore against
// in that case. ExpirationDate is zero for session cookies.
type CookieRecord struct {
	Name             string        `json:"name"`
	Value            string        `json:"value"`
	Domain           string        `json:"domain,omitempty"`
	Path             string        `json:"path"`
	Secure           bool          `json:"secure"`
	HTTPOnly         bool          `json:"httpOnly"`
	SameSite         string        `json:"sameSite,omitempty"`
	ExpirationDate   float64       `json:"expirationDate,omitempty"`
	StoreID          string        `json:"storeId,omitempty"`
	FirstPartyDomain string        `json:"firstPartyDomain,omitempty"`
	SameParty        bool          `json:"sameParty,omitempty"`
	Priority         string        `json:"priority,omitempty"`
	PartitionKey     *PartitionKey `json:"partitionKey,omitempty"`
	HostOnly         bool          `json:"hostOnly,omitempty"`
	Session          bool          `json:"session,omitempty"`
	DomainFallback   string        `json:"domainFallback,omitempty"`
}

// DedupKey returns the identity key used to deduplicate cookies captured
// by overlapping queries: (name, domain-or-fallback-host, path, store,
// partition key).
func (c CookieRecord) DedupKey(fallbackHost string) string {
	domain := c.Domain
	if domain == "" {
		domain = fallbackHost
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	store := c.StoreID
	if store == "" {
		store = "default"
	}
	partition := ""
	if c.PartitionKey != nil {
		raw, _ := json.Marshal(c.PartitionKey)
		partition = string(raw)
	}
	return strings.Join([]string{c.Name, domain, path, store, partition}, "|")
}

// CookieRef is the reduced cookie identity kept in a logout job: enough
// to delete the cookie later, without retaining its value.
type CookieRef struct {
	Name           string        `json:"name"`
	Domain         string        `json:"domain,omitempty"`
	Path           string        `json:"path"`
	Secure         bool          `json:"secure"`
	StoreID        string        `json:"storeId,omitempty"`
	PartitionKey   *PartitionKey `json:"partitionKey,omitempty"`
	DomainFallback string        `json:"domainFallback,omitempty"`
	Session        bool          `json:"session,omitempty"`
}

// Ref reduces the cookie to its deletion identity.
func (c CookieRecord) Ref() CookieRef {
	path := c.Path
	if path == "" {
		path = "/"
	}
	return CookieRef{
		Name:           c.Name,
		Domain:         c.Domain,
		Path:           path,
		Secure:         c.Secure,
		StoreID:        c.StoreID,
		PartitionKey:   c.PartitionKey,
		DomainFallback: c.DomainFallback,
		Session:        c.Session,
	}
}

// StorageEntry is one localStorage/sessionStorage key-value pair. It
// marshals as a two-element JSON array to stay compatible with the
// snapshot wire format.
type StorageEntry struct {
	Key   string
	Value string
}

func (e StorageEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Key, e.Value})
}

func (e *StorageEntry) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("storage entry must be a [key, value] pair: %w", err)
	}
	e.Key = pair[0]
	e.Value = pair[1]
	return nil
}

// Keys returns just the keys of the given entries, preserving order.
func Keys(entries []StorageEntry) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

// Snapshot is a captured, normalized browser session for one origin.
// Immutable once built.
type Snapshot struct {
	FormatVersion  int            `json:"version"`
	CapturedAt     time.Time      `json:"capturedAt"`
	TargetOrigin   string         `json:"targetOrigin"`
	TargetPath     string         `json:"targetPath"`
	URL            string         `json:"url"`
	Cookies        []CookieRecord `json:"cookies"`
	LocalStorage   []StorageEntry `json:"localStorage"`
	SessionStorage []StorageEntry `json:"sessionStorage"`
}

// TargetURL returns the URL to open when applying the snapshot.
func (s *Snapshot) TargetURL() string {
	if s.URL != "" {
		return s.URL
	}
	path := s.TargetPath
	if path == "" {
		path = "/"
	}
	return s.TargetOrigin + path
}

// Validate checks the structural invariants of a decoded snapshot.
func (s *Snapshot) Validate() error {
	if s.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported snapshot format version: %d", s.FormatVersion)
	}
	if s.TargetOrigin == "" && s.URL == "" {
		return errors.New("snapshot carries neither target origin nor URL")
	}
	return nil
}
