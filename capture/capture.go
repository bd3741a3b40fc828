// Package capture builds a normalized session snapshot from the live
// browser state of a tab.
package capture

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/publicpass/publicpass/browser"
	"github.com/publicpass/publicpass/session"
)

// Snapshot captures the cookies and page storage reachable from tab and
// assembles them into a canonical snapshot. The tab must be an http(s)
// page; the check happens before any cookie or storage work.
func Snapshot(ctx context.Context, cookies browser.CookieStore, pages browser.PageStorage, tab browser.Tab) (*session.Snapshot, error) {
	u, err := url.Parse(tab.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, session.ErrNotHTTPPage
	}

	collected, err := collectCookies(ctx, cookies, u)
	if err != nil {
		return nil, err
	}

	local, sess, err := pages.Collect(ctx, tab.ID)
	if err != nil {
		return nil, fmt.Errorf("collecting page storage: %w", err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	return &session.Snapshot{
		FormatVersion:  session.FormatVersion,
		CapturedAt:     time.Now().UTC(),
		TargetOrigin:   u.Scheme + "://" + u.Host,
		TargetPath:     path,
		URL:            tab.URL,
		Cookies:        collected,
		LocalStorage:   local,
		SessionStorage: sess,
	}, nil
}

// collectCookies unions the by-URL and by-domain queries, deduplicating
// on the cookie identity key. The by-URL result is listed first, so it
// wins when the two queries overlap.
func collectCookies(ctx context.Context, cookies browser.CookieStore, u *url.URL) ([]session.CookieRecord, error) {
	byURL, err := cookies.GetAllByURL(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("querying cookies by url: %w", err)
	}
	byDomain, err := cookies.GetAllByDomain(ctx, u.Hostname())
	if err != nil {
		return nil, fmt.Errorf("querying cookies by domain: %w", err)
	}

	fallbackHost := u.Hostname()
	seen := make(map[string]struct{})
	var out []session.CookieRecord
	for _, c := range append(byURL, byDomain...) {
		key := c.DedupKey(fallbackHost)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if c.Path == "" {
			c.Path = "/"
		}
		c.DomainFallback = fallbackHost
		out = append(out, c)
	}
	return out, nil
}
