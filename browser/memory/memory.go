// Package memory provides an in-process implementation of the browser
// boundary. Cookies, tabs, and page storage live in maps; it backs the
// reference agent and the protocol tests.
package memory

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/publicpass/publicpass/browser"
	"github.com/publicpass/publicpass/session"
)

// Notification is a recorded user notification.
type Notification struct {
	Title   string
	Message string
}

type page struct {
	local   map[string]string
	session map[string]string
}

// Browser is an in-memory browser.Browser. FailPageWrite, when set,
// makes PageStorage.Write return that error; tests use it to exercise
// partial-failure handling.
type Browser struct {
	mu      sync.Mutex
	cookies map[string]session.CookieRecord // keyed by cookie dedup key
	tabs    map[browser.TabID]string        // tab id -> url
	pages   map[string]*page                // origin -> storage
	nextTab browser.TabID

	Notifications []Notification
	FailPageWrite error
}

var _ browser.Browser = (*Browser)(nil)

// New creates an empty in-memory browser.
func New() *Browser {
	return &Browser{
		cookies: make(map[string]session.CookieRecord),
		tabs:    make(map[browser.TabID]string),
		pages:   make(map[string]*page),
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// domainMatches reports whether a cookie with the given domain attribute
// is in scope for host. A leading dot (or a stored parent domain) matches
// subdomains the way the browser cookie jar does.
func domainMatches(cookieDomain, host string) bool {
	d := strings.TrimPrefix(cookieDomain, ".")
	return d == host || strings.HasSuffix(host, "."+d)
}

func (b *Browser) getAll(match func(session.CookieRecord) bool) []session.CookieRecord {
	var out []session.CookieRecord
	for _, c := range b.cookies {
		if match(c) {
			out = append(out, c)
		}
	}
	return out
}

func (b *Browser) GetAllByURL(ctx context.Context, rawURL string) ([]session.CookieRecord, error) {
	host := hostOf(rawURL)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getAll(func(c session.CookieRecord) bool {
		d := c.Domain
		if d == "" {
			d = c.DomainFallback
		}
		if c.HostOnly {
			return strings.TrimPrefix(d, ".") == host
		}
		return domainMatches(d, host)
	}), nil
}

func (b *Browser) GetAllByDomain(ctx context.Context, domain string) ([]session.CookieRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getAll(func(c session.CookieRecord) bool {
		d := c.Domain
		if d == "" {
			d = c.DomainFallback
		}
		return domainMatches(d, domain)
	}), nil
}

func (b *Browser) Set(ctx context.Context, c browser.SetCookie) error {
	rec := session.CookieRecord{
		Name:             c.Name,
		Value:            c.Value,
		Domain:           c.Domain,
		Path:             c.Path,
		Secure:           c.Secure,
		HTTPOnly:         c.HTTPOnly,
		SameSite:         c.SameSite,
		ExpirationDate:   c.ExpirationDate,
		StoreID:          c.StoreID,
		FirstPartyDomain: c.FirstPartyDomain,
		SameParty:        c.SameParty,
		Priority:         c.Priority,
		PartitionKey:     c.PartitionKey,
		HostOnly:         c.Domain == "",
		Session:          c.ExpirationDate == 0,
		DomainFallback:   hostOf(c.URL),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cookies[rec.DedupKey(rec.DomainFallback)] = rec
	return nil
}

func (b *Browser) Remove(ctx context.Context, r browser.RemoveCookie) error {
	host := hostOf(r.URL)
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, c := range b.cookies {
		if c.Name != r.Name {
			continue
		}
		d := c.Domain
		if d == "" {
			d = c.DomainFallback
		}
		if strings.TrimPrefix(d, ".") != host && !domainMatches(d, host) {
			continue
		}
		if r.StoreID != "" && c.StoreID != r.StoreID {
			continue
		}
		delete(b.cookies, key)
	}
	return nil
}

// Cookies returns a copy of the current jar contents.
func (b *Browser) Cookies() []session.CookieRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]session.CookieRecord, 0, len(b.cookies))
	for _, c := range b.cookies {
		out = append(out, c)
	}
	return out
}

func (b *Browser) Open(ctx context.Context, rawURL string, active bool) (browser.TabID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextTab++
	id := b.nextTab
	b.tabs[id] = rawURL
	if _, ok := b.pages[originOf(rawURL)]; !ok {
		b.pages[originOf(rawURL)] = &page{
			local:   make(map[string]string),
			session: make(map[string]string),
		}
	}
	return id, nil
}

// WaitComplete is immediate: in-memory tabs are loaded as soon as they open.
func (b *Browser) WaitComplete(ctx context.Context, id browser.TabID) error {
	return nil
}

func (b *Browser) Close(ctx context.Context, id browser.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tabs, id)
	return nil
}

// OpenTabs returns the URLs of tabs currently open.
func (b *Browser) OpenTabs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.tabs))
	for _, u := range b.tabs {
		out = append(out, u)
	}
	return out
}

func (b *Browser) pageFor(tab browser.TabID) *page {
	u, ok := b.tabs[tab]
	if !ok {
		return nil
	}
	return b.pages[originOf(u)]
}

func (b *Browser) Collect(ctx context.Context, tab browser.TabID) ([]session.StorageEntry, []session.StorageEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pageFor(tab)
	if p == nil {
		return nil, nil, nil
	}
	return entries(p.local), entries(p.session), nil
}

func (b *Browser) Write(ctx context.Context, tab browser.TabID, local, sess []session.StorageEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailPageWrite != nil {
		return b.FailPageWrite
	}
	p := b.pageFor(tab)
	if p == nil {
		return nil
	}
	for _, e := range local {
		p.local[e.Key] = e.Value
	}
	for _, e := range sess {
		p.session[e.Key] = e.Value
	}
	return nil
}

func (b *Browser) RemoveKeys(ctx context.Context, tab browser.TabID, localKeys, sessionKeys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pageFor(tab)
	if p == nil {
		return nil
	}
	for _, k := range localKeys {
		delete(p.local, k)
	}
	for _, k := range sessionKeys {
		delete(p.session, k)
	}
	return nil
}

func (b *Browser) ClearAll(ctx context.Context, tab browser.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pageFor(tab)
	if p == nil {
		return nil
	}
	p.local = make(map[string]string)
	p.session = make(map[string]string)
	return nil
}

// SeedStorage pre-populates page storage for an origin.
func (b *Browser) SeedStorage(origin string, local, sess map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &page{local: make(map[string]string), session: make(map[string]string)}
	for k, v := range local {
		p.local[k] = v
	}
	for k, v := range sess {
		p.session[k] = v
	}
	b.pages[origin] = p
}

// StorageFor returns a copy of the page storage for an origin.
func (b *Browser) StorageFor(origin string) (local, sess map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	local = make(map[string]string)
	sess = make(map[string]string)
	if p, ok := b.pages[origin]; ok {
		for k, v := range p.local {
			local[k] = v
		}
		for k, v := range p.session {
			sess[k] = v
		}
	}
	return local, sess
}

func (b *Browser) Notify(ctx context.Context, title, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Notifications = append(b.Notifications, Notification{Title: title, Message: message})
}

func entries(m map[string]string) []session.StorageEntry {
	out := make([]session.StorageEntry, 0, len(m))
	for k, v := range m {
		out = append(out, session.StorageEntry{Key: k, Value: v})
	}
	return out
}
