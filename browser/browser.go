// Package browser defines the boundary to the hosting browser: cookie
// store, tab lifecycle, page storage access, and user notifications.
// The protocol core only depends on these interfaces; the concrete
// implementation is whatever drives the actual browser.
package browser

import (
	"context"

	"github.com/publicpass/publicpass/session"
)

// TabID identifies an open tab.
type TabID int

// Tab describes an open tab.
type Tab struct {
	ID  TabID
	URL string
}

// SetCookie carries the fields of a single cookie-set operation. Optional
// fields left at their zero value are omitted from the underlying call:
// an empty Domain sets a host-only cookie, a zero ExpirationDate sets a
// session cookie, an empty SameSite leaves the policy unspecified.
type SetCookie struct {
	URL              string
	Name             string
	Value            string
	Domain           string
	Path             string
	Secure           bool
	HTTPOnly         bool
	SameSite         string
	ExpirationDate   float64
	StoreID          string
	FirstPartyDomain string
	SameParty        bool
	Priority         string
	PartitionKey     *session.PartitionKey
}

// RemoveCookie identifies a cookie to delete.
type RemoveCookie struct {
	URL          string
	Name         string
	StoreID      string
	PartitionKey *session.PartitionKey
}

// CookieStore reads and mutates the browser cookie jar.
type CookieStore interface {
	GetAllByURL(ctx context.Context, url string) ([]session.CookieRecord, error)
	GetAllByDomain(ctx context.Context, domain string) ([]session.CookieRecord, error)
	Set(ctx context.Context, c SetCookie) error
	Remove(ctx context.Context, r RemoveCookie) error
}

// Tabs opens, waits on, and closes tabs.
type Tabs interface {
	Open(ctx context.Context, url string, active bool) (TabID, error)
	// WaitComplete blocks until the tab finishes loading or ctx expires.
	WaitComplete(ctx context.Context, id TabID) error
	Close(ctx context.Context, id TabID) error
}

// PageStorage reads and writes localStorage/sessionStorage inside the
// page context of a tab.
type PageStorage interface {
	Collect(ctx context.Context, tab TabID) (local, session []session.StorageEntry, err error)
	Write(ctx context.Context, tab TabID, local, session []session.StorageEntry) error
	RemoveKeys(ctx context.Context, tab TabID, localKeys, sessionKeys []string) error
	ClearAll(ctx context.Context, tab TabID) error
}

// Notifier surfaces a user-visible message. Implementations are
// best-effort; failures are not reported.
type Notifier interface {
	Notify(ctx context.Context, title, message string)
}

// Browser bundles the full boundary surface.
type Browser interface {
	CookieStore
	Tabs
	PageStorage
	Notifier
}
