// Package accept implements the receiver side of the protocol: the
// direct-link and polled-inbox entry points, the dedup guards that make
// redelivery idempotent, and the common session-apply logic.
//
// Per delivery the state machine is unseen -> claimed -> applied or
// failed. The claim is taken synchronously, before any network or
// browser work, so a duplicate delivery arriving while the first is
// still in flight is rejected. A link-path failure un-claims its token
// so the user can retry; an inbox-path failure does not, trading a
// dropped delivery for poison-item safety.
package accept

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/publicpass/publicpass/browser"
	"github.com/publicpass/publicpass/envelope"
	"github.com/publicpass/publicpass/internal/util"
	"github.com/publicpass/publicpass/keystore"
	"github.com/publicpass/publicpass/relay"
	"github.com/publicpass/publicpass/session"
	"github.com/publicpass/publicpass/state"
)

const (
	notifyTitle = "PublicPass"

	// linkPathPrefix marks relay URLs that carry a direct-link token.
	linkPathPrefix = "/session/"

	pollLimit = 10
)

// Manager is the acceptance state machine for one device.
type Manager struct {
	mu              sync.Mutex
	processedTokens map[string]struct{}
	processedIDs    []string
	processedIDSet  map[string]struct{}

	state     *state.Store
	keys      *keystore.Store
	relay     relay.Client
	browser   browser.Browser
	scheduler LogoutScheduler
	logger    *slog.Logger
	tabWait   time.Duration
}

// LogoutScheduler is the expiry surface the manager depends on.
type LogoutScheduler interface {
	ScheduleLogout(durationSec int, snap *session.Snapshot, jobID string) error
	RevokeOrigin(ctx context.Context, targetOrigin string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// New creates a Manager, loading the persisted processed-id ring.
func New(st *state.Store, keys *keystore.Store, rc relay.Client, b browser.Browser, sched LogoutScheduler, opts ...Option) (*Manager, error) {
	ids, err := st.ProcessedInboxIDs()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		processedTokens: make(map[string]struct{}),
		processedIDs:    ids,
		processedIDSet:  make(map[string]struct{}, len(ids)),
		state:           st,
		keys:            keys,
		relay:           rc,
		browser:         b,
		scheduler:       sched,
		logger:          slog.Default(),
		tabWait:         20 * time.Second,
	}
	for _, id := range ids {
		m.processedIDSet[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TokenFromURL extracts a direct-link token from a recognized link URL,
// or returns "" when the URL is not a session link.
func TokenFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if !strings.HasPrefix(u.Path, linkPathPrefix) {
		return ""
	}
	parts := strings.Split(u.Path, "/")
	return parts[len(parts)-1]
}

// claimToken reports whether the token was newly claimed.
func (m *Manager) claimToken(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processedTokens[token]; ok {
		return false
	}
	m.processedTokens[token] = struct{}{}
	return true
}

func (m *Manager) unclaimToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processedTokens, token)
}

// claimInboxID adds the id to the bounded processed ring and persists it
// immediately. It reports whether the id was newly claimed. The claim is
// never released, even when processing fails.
func (m *Manager) claimInboxID(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processedIDSet[id]; ok {
		return false, nil
	}
	m.processedIDSet[id] = struct{}{}
	m.processedIDs = append(m.processedIDs, id)
	if len(m.processedIDs) > state.ProcessedRingSize {
		evicted := m.processedIDs[:len(m.processedIDs)-state.ProcessedRingSize]
		for _, e := range evicted {
			delete(m.processedIDSet, e)
		}
		m.processedIDs = m.processedIDs[len(m.processedIDs)-state.ProcessedRingSize:]
	}
	if err := m.state.SaveProcessedInboxIDs(m.processedIDs); err != nil {
		return true, err
	}
	return true, nil
}

// HandleLink consumes a direct-link token: fetch the cipher bundle,
// decrypt, apply, consume the one-shot link, and schedule expiry if the
// share granted a limited duration. Redelivery of an already-claimed
// token is an idempotent no-op. On failure the token is un-claimed so a
// manual retry can succeed. originTab, when non-zero, is the tab the
// link was opened in; it is closed after a successful accept.
func (m *Manager) HandleLink(ctx context.Context, token string, originTab browser.TabID) error {
	if token == "" {
		return fmt.Errorf("empty link token")
	}
	settings, err := m.state.Settings()
	if err != nil {
		return err
	}
	if strings.TrimSpace(settings.Username) == "" {
		m.browser.Notify(ctx, notifyTitle, "Set your username in the agent settings before accepting sessions.")
		return state.ErrNoUsername
	}
	if !m.claimToken(token) {
		return nil
	}

	if err := m.acceptLink(ctx, token, originTab); err != nil {
		m.unclaimToken(token)
		m.browser.Notify(ctx, notifyTitle, "Failed to accept session: "+err.Error())
		return err
	}
	return nil
}

func (m *Manager) acceptLink(ctx context.Context, token string, originTab browser.TabID) error {
	id, err := m.keys.EnsureIdentity()
	if err != nil {
		return err
	}
	share, err := m.relay.FetchShare(ctx, token)
	if err != nil {
		return err
	}
	snap, err := m.decrypt(id, share.Cipher, share.Meta)
	if err != nil {
		return err
	}
	if _, err := m.applySession(ctx, snap); err != nil {
		return err
	}
	if err := m.relay.ConsumeShare(ctx, token); err != nil {
		return err
	}
	if err := m.scheduler.ScheduleLogout(share.Meta.SessionDurationSec, snap, token); err != nil {
		return err
	}
	m.browser.Notify(ctx, notifyTitle, "Session accepted. You should be logged in.")
	if originTab != 0 {
		if err := m.browser.Close(ctx, originTab); err != nil {
			m.logger.Warn("closing link tab failed", "tab", originTab, "error", err)
		}
	}
	m.logger.Info("link session accepted", "origin", snap.TargetOrigin)
	return nil
}

// PollInboxOnce fetches pending inbox items and processes each one not
// seen before. Revokes trigger immediate logout of their origin. Failed
// items stay claimed and are acknowledged anyway, so a poison item is
// never retried forever. All acknowledgements for the batch go to the
// relay in one call.
func (m *Manager) PollInboxOnce(ctx context.Context) error {
	settings, err := m.state.Settings()
	if err != nil {
		return err
	}
	username := util.Normalize(strings.TrimSpace(settings.Username))
	if username == "" {
		return nil
	}

	items, err := m.relay.PollInbox(ctx, username, pollLimit)
	if err != nil {
		return err
	}

	var toAck []string
	for _, item := range items {
		claimed, err := m.claimInboxID(item.ID)
		if err != nil {
			m.logger.Warn("persisting processed id failed", "id", item.ID, "error", err)
		}
		if !claimed {
			continue
		}
		if err := m.processInboxItem(ctx, item); err != nil {
			// The claim stands: the item is acked rather than retried.
			m.logger.Warn("processing inbox item failed", "id", item.ID, "error", err)
		}
		toAck = append(toAck, item.ID)
	}

	if len(toAck) > 0 {
		if err := m.relay.AckInbox(ctx, username, toAck); err != nil {
			return fmt.Errorf("acknowledging inbox items: %w", err)
		}
	}
	return nil
}

func (m *Manager) processInboxItem(ctx context.Context, item relay.InboxItem) error {
	if item.Meta.IsRevoke() {
		if item.Meta.TargetOrigin == "" {
			return fmt.Errorf("revoke item %s has no target origin", item.ID)
		}
		if err := m.scheduler.RevokeOrigin(ctx, item.Meta.TargetOrigin); err != nil {
			return err
		}
		m.browser.Notify(ctx, notifyTitle, "Session revoked by admin. You have been logged out.")
		return nil
	}

	id, err := m.keys.EnsureIdentity()
	if err != nil {
		return err
	}
	snap, err := m.decrypt(id, item.Cipher, item.Meta)
	if err != nil {
		return err
	}
	if _, err := m.applySession(ctx, snap); err != nil {
		return err
	}
	// Derive the job id from the inbox id so redelivery of the same item
	// cannot double-schedule.
	if err := m.scheduler.ScheduleLogout(item.Meta.SessionDurationSec, snap, "inbox:"+item.ID); err != nil {
		return err
	}
	if item.Meta.SessionID != "" {
		if err := m.relay.MarkSessionAccepted(ctx, item.Meta.SessionID); err != nil {
			m.logger.Warn("marking session accepted failed", "session", item.Meta.SessionID, "error", err)
		}
	}
	sender := item.Meta.Sender
	if sender == "" {
		sender = "someone"
	}
	m.browser.Notify(ctx, notifyTitle, "Session received from "+sender)
	m.logger.Info("inbox session applied", "id", item.ID, "origin", snap.TargetOrigin)
	return nil
}

func (m *Manager) decrypt(id *keystore.Identity, cipher string, meta relay.Meta) (*session.Snapshot, error) {
	bundle, err := envelope.Deserialize(cipher)
	if err != nil {
		return nil, err
	}
	expectedOrigin := meta.TargetOrigin
	if expectedOrigin == "" {
		expectedOrigin = bundle.TargetOrigin
	}
	priv, err := id.Private()
	if err != nil {
		return nil, err
	}
	defer util.WipeArray32(&priv)
	return envelope.Decrypt(bundle, priv, expectedOrigin)
}

// applySession restores cookies, opens a tab at the snapshot URL, and
// writes the storage entries into that page context. A storage-write
// failure after cookies succeeded is non-fatal: cookies stay applied and
// the user is told storage partially failed.
func (m *Manager) applySession(ctx context.Context, snap *session.Snapshot) (browser.TabID, error) {
	m.applyCookies(ctx, snap)

	tab, err := m.browser.Open(ctx, snap.TargetURL(), true)
	if err != nil {
		return 0, fmt.Errorf("opening session tab: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, m.tabWait)
	err = m.browser.WaitComplete(waitCtx, tab)
	cancel()
	if err != nil {
		return tab, fmt.Errorf("waiting for session tab: %w", err)
	}

	if err := m.browser.Write(ctx, tab, snap.LocalStorage, snap.SessionStorage); err != nil {
		m.logger.Warn("storage restore failed", "origin", snap.TargetOrigin, "error", err)
		m.browser.Notify(ctx, notifyTitle, "Storage restore failed; cookies applied")
	}
	return tab, nil
}

// applyCookies restores each cookie, omitting the explicit domain for
// host-only cookies, the expiration for session cookies, and an
// unspecified same-site policy. Individual failures are logged and
// skipped.
func (m *Manager) applyCookies(ctx context.Context, snap *session.Snapshot) {
	referenceHost := hostOfOrigin(snap.TargetOrigin)
	referenceScheme := schemeOfOrigin(snap.TargetOrigin)

	for _, c := range snap.Cookies {
		fallbackHost := c.DomainFallback
		if fallbackHost == "" {
			fallbackHost = referenceHost
		}
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			host = fallbackHost
		}
		if host == "" {
			continue
		}
		scheme := referenceScheme
		if c.Secure {
			scheme = "https"
		}
		path := c.Path
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		set := browser.SetCookie{
			URL:              scheme + "://" + host + path,
			Name:             c.Name,
			Value:            c.Value,
			Path:             path,
			Secure:           c.Secure,
			HTTPOnly:         c.HTTPOnly,
			StoreID:          c.StoreID,
			FirstPartyDomain: c.FirstPartyDomain,
			SameParty:        c.SameParty,
			Priority:         c.Priority,
			PartitionKey:     c.PartitionKey,
		}
		if c.Domain != "" && !c.HostOnly {
			set.Domain = c.Domain
		}
		if !c.Session && c.ExpirationDate != 0 {
			set.ExpirationDate = c.ExpirationDate
		}
		if c.SameSite != "" && c.SameSite != "unspecified" {
			set.SameSite = c.SameSite
		}
		if err := m.browser.Set(ctx, set); err != nil {
			m.logger.Warn("cookie restore failed", "cookie", c.Name, "error", err)
		}
	}
}

func hostOfOrigin(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func schemeOfOrigin(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" {
		return "http"
	}
	return u.Scheme
}
