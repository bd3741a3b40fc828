package accept

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/publicpass/publicpass/api"
	"github.com/publicpass/publicpass/browser"
	browsermem "github.com/publicpass/publicpass/browser/memory"
	"github.com/publicpass/publicpass/dispatch"
	"github.com/publicpass/publicpass/expiry"
	"github.com/publicpass/publicpass/keystore"
	"github.com/publicpass/publicpass/relay"
	"github.com/publicpass/publicpass/state"
	storagemem "github.com/publicpass/publicpass/storage/memory"
)

// recordingAlarms captures scheduled timers so the test can fire them
// deterministically.
type recordingAlarms struct {
	scheduled map[string]time.Time
}

func (a *recordingAlarms) Schedule(name string, at time.Time) {
	a.scheduled[name] = at
}

func (a *recordingAlarms) Cancel(name string) { delete(a.scheduled, name) }

type agent struct {
	state   *state.Store
	keys    *keystore.Store
	browser *browsermem.Browser
}

func newAgent(t *testing.T, username string) agent {
	t.Helper()
	repo := storagemem.NewRepository()
	st := state.New(repo)
	settings, err := st.Settings()
	require.NoError(t, err)
	settings.Username = username
	require.NoError(t, st.SaveSettings(settings))
	return agent{state: st, keys: keystore.New(repo), browser: browsermem.New()}
}

func newRelayServer(t *testing.T) *relay.HTTPClient {
	t.Helper()
	a := api.New(storagemem.NewRepository(), api.WithLogger(quietLogger()))
	r := chi.NewRouter()
	r.Mount("/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return relay.NewHTTP(srv.URL)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// The whole transfer runs against a real relay over HTTP: alice captures
// her logged-in session, shares it with bob, bob's poll applies it, and
// the granted duration firing logs bob back out.
func TestTransfer_EndToEndOverRelay(t *testing.T) {
	c := newRelayServer(t)
	ctx := context.Background()

	// 1. Alice is logged in to the app in her own browser.
	alice := newAgent(t, "alice")
	const pageURL = "https://app.example.com/dashboard"
	adminTab, err := alice.browser.Open(ctx, pageURL, true)
	require.NoError(t, err)
	require.NoError(t, alice.browser.Set(ctx, browser.SetCookie{
		URL:  pageURL,
		Name: "sid", Value: "secret-session-token", Path: "/",
	}))
	alice.browser.SeedStorage("https://app.example.com",
		map[string]string{"jwt": "header.payload.sig"}, nil)

	// 2. Bob registers his identity with the relay.
	bob := newAgent(t, "bob")
	bobID, err := bob.keys.EnsureIdentity()
	require.NoError(t, err)
	_, err = c.Register(ctx, "bob", bobID.PublicKeyBase64(), "")
	require.NoError(t, err)

	// 3. Alice shares the captured session, granting 5 minutes.
	d := dispatch.New(alice.state, alice.keys, c, dispatch.WithLogger(quietLogger()))
	tab := browser.Tab{ID: adminTab, URL: pageURL}
	require.NoError(t, d.ShareSession(ctx, alice.browser, alice.browser, tab, "bob", "prod debug", 300))

	// 4. Bob's agent polls and applies the session.
	alarms := &recordingAlarms{scheduled: make(map[string]time.Time)}
	sched := expiry.New(bob.state, bob.browser, expiry.WithAlarms(alarms), expiry.WithLogger(quietLogger()))
	m, err := New(bob.state, bob.keys, c, bob.browser, sched, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, m.PollInboxOnce(ctx))

	cookies := bob.browser.Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "sid", cookies[0].Name)
	require.Equal(t, "secret-session-token", cookies[0].Value)
	require.Contains(t, bob.browser.OpenTabs(), pageURL)
	local, _ := bob.browser.StorageFor("https://app.example.com")
	require.Equal(t, "header.payload.sig", local["jwt"])

	// 5. The item was acked off the relay, and a repeat poll is a no-op.
	items, err := c.PollInbox(ctx, "bob", 10)
	require.NoError(t, err)
	require.Empty(t, items)
	require.NoError(t, m.PollInboxOnce(ctx))

	// 6. The granted duration elapses and bob is logged out.
	require.Len(t, alarms.scheduled, 1)
	var jobID string
	for name := range alarms.scheduled {
		jobID = name
	}
	sched.HandleAlarm(ctx, jobID)

	require.Empty(t, bob.browser.Cookies())
	local, _ = bob.browser.StorageFor("https://app.example.com")
	require.NotContains(t, local, "jwt")

	jobs, err := bob.state.LogoutJobs()
	require.NoError(t, err)
	require.Empty(t, jobs)
}

// A revoke travels the same relay path and clears the recipient's
// session immediately.
func TestTransfer_RevokeOverRelay(t *testing.T) {
	c := newRelayServer(t)
	ctx := context.Background()

	bob := newAgent(t, "bob")
	bobID, err := bob.keys.EnsureIdentity()
	require.NoError(t, err)
	_, err = c.Register(ctx, "bob", bobID.PublicKeyBase64(), "")
	require.NoError(t, err)

	// Bob currently holds a transferred session.
	require.NoError(t, bob.browser.Set(ctx, browser.SetCookie{
		URL:  "https://app.example.com/",
		Name: "sid", Value: "transferred", Path: "/",
	}))
	bob.browser.SeedStorage("https://app.example.com", map[string]string{"jwt": "x"}, nil)

	require.NoError(t, c.Push(ctx, relay.PushRequest{
		Recipient: "bob",
		Meta: relay.Meta{
			Type:         relay.TypeRevoke,
			TargetOrigin: "https://app.example.com",
			Sender:       "alice",
		},
	}))

	sched := expiry.New(bob.state, bob.browser, expiry.WithLogger(quietLogger()))
	m, err := New(bob.state, bob.keys, c, bob.browser, sched, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, m.PollInboxOnce(ctx))

	require.Empty(t, bob.browser.Cookies())
	local, _ := bob.browser.StorageFor("https://app.example.com")
	require.NotContains(t, local, "jwt")

	items, err := c.PollInbox(ctx, "bob", 10)
	require.NoError(t, err)
	require.Empty(t, items)
}
