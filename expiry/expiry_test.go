package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/publicpass/publicpass/browser"
	browsermem "github.com/publicpass/publicpass/browser/memory"
	"github.com/publicpass/publicpass/session"
	"github.com/publicpass/publicpass/state"
	storagemem "github.com/publicpass/publicpass/storage/memory"
)

// manualAlarms records schedules; tests fire them by calling the
// scheduler's HandleAlarm directly.
type manualAlarms struct {
	scheduled map[string]time.Time
	cancelled []string
}

func newManualAlarms() *manualAlarms {
	return &manualAlarms{scheduled: make(map[string]time.Time)}
}

func (a *manualAlarms) Schedule(name string, at time.Time) { a.scheduled[name] = at }

func (a *manualAlarms) Cancel(name string) { a.cancelled = append(a.cancelled, name) }

func testSnapshot() *session.Snapshot {
	return &session.Snapshot{
		FormatVersion: session.FormatVersion,
		TargetOrigin:  "https://app.example.com",
		TargetPath:    "/",
		Cookies: []session.CookieRecord{
			{Name: "sid", Value: "secret", Domain: ".example.com", Path: "/", Secure: true, DomainFallback: "app.example.com"},
		},
		LocalStorage:   []session.StorageEntry{{Key: "theme", Value: "dark"}},
		SessionStorage: []session.StorageEntry{{Key: "csrf", Value: "tok"}},
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *state.Store, *browsermem.Browser, *manualAlarms) {
	t.Helper()
	st := state.New(storagemem.NewRepository())
	b := browsermem.New()
	alarms := newManualAlarms()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := New(st, b, WithAlarms(alarms), WithClock(func() time.Time { return now }))
	return s, st, b, alarms
}

func seedSession(t *testing.T, b *browsermem.Browser) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, browser.SetCookie{
		URL: "https://app.example.com/", Name: "sid", Value: "secret", Domain: ".example.com", Path: "/", Secure: true,
	}))
	b.SeedStorage("https://app.example.com", map[string]string{"theme": "dark", "keep": "me"}, map[string]string{"csrf": "tok"})
}

func TestScheduleLogout_ZeroDurationIsNoOp(t *testing.T) {
	s, st, _, alarms := newTestScheduler(t)

	require.NoError(t, s.ScheduleLogout(0, testSnapshot(), "job-0"))
	require.NoError(t, s.ScheduleLogout(-5, testSnapshot(), "job-neg"))

	jobs, err := st.LogoutJobs()
	require.NoError(t, err)
	require.Empty(t, jobs)
	require.Empty(t, alarms.scheduled)
}

func TestScheduleLogout_PersistsJobAndArmsAlarm(t *testing.T) {
	s, st, _, alarms := newTestScheduler(t)
	snap := testSnapshot()

	require.NoError(t, s.ScheduleLogout(600, snap, "job-1"))

	jobs, err := st.LogoutJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	job := jobs[0]
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, snap.TargetOrigin, job.TargetOrigin)
	require.Equal(t, []string{"theme"}, job.LocalStorageKeys)
	require.Equal(t, []string{"csrf"}, job.SessionStorageKeys)
	require.Len(t, job.Cookies, 1)
	require.Equal(t, "sid", job.Cookies[0].Name)

	at, ok := alarms.scheduled["job-1"]
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 8, 1, 12, 10, 0, 0, time.UTC), at)
}

func TestHandleAlarm_CleansUpAndRemovesJob(t *testing.T) {
	s, st, b, _ := newTestScheduler(t)
	seedSession(t, b)
	ctx := context.Background()

	require.NoError(t, s.ScheduleLogout(60, testSnapshot(), "job-1"))
	s.HandleAlarm(ctx, "job-1")

	require.Empty(t, b.Cookies(), "session cookie should be deleted")

	local, _ := b.StorageFor("https://app.example.com")
	require.NotContains(t, local, "theme")
	require.Contains(t, local, "keep", "unrelated storage keys survive")

	jobs, err := st.LogoutJobs()
	require.NoError(t, err)
	require.Empty(t, jobs)

	require.NotEmpty(t, b.Notifications)
	require.Contains(t, b.Notifications[len(b.Notifications)-1].Message, "auto-logout")

	// Cleanup tab was closed again.
	require.Empty(t, b.OpenTabs())
}

func TestHandleAlarm_MissingJobIsNoOp(t *testing.T) {
	s, _, b, _ := newTestScheduler(t)
	seedSession(t, b)

	s.HandleAlarm(context.Background(), "never-scheduled")

	require.Len(t, b.Cookies(), 1)
	require.Empty(t, b.Notifications)
}

func TestHandleAlarm_FiresOnlyOnce(t *testing.T) {
	s, _, b, _ := newTestScheduler(t)
	seedSession(t, b)
	ctx := context.Background()

	require.NoError(t, s.ScheduleLogout(60, testSnapshot(), "job-1"))
	s.HandleAlarm(ctx, "job-1")
	notifications := len(b.Notifications)

	s.HandleAlarm(ctx, "job-1")
	require.Len(t, b.Notifications, notifications, "second fire must be silent")
}

func TestRevokeOrigin_SweepsHostAndSupersedesJob(t *testing.T) {
	s, st, b, _ := newTestScheduler(t)
	ctx := context.Background()

	seedSession(t, b)
	// An extra host-only cookie not tracked by any job gets swept too.
	require.NoError(t, b.Set(ctx, browser.SetCookie{
		URL: "https://app.example.com/", Name: "untracked", Value: "v",
	}))

	require.NoError(t, s.ScheduleLogout(600, testSnapshot(), "job-1"))
	require.NoError(t, s.RevokeOrigin(ctx, "https://app.example.com"))

	require.Empty(t, b.Cookies(), "all cookies for the host are removed")
	local, sess := b.StorageFor("https://app.example.com")
	require.Empty(t, local)
	require.Empty(t, sess)

	// The pending job still exists; its later fire finds nothing.
	jobs, err := st.LogoutJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	s.HandleAlarm(ctx, "job-1")
	jobs, err = st.LogoutJobs()
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestRevokeOrigin_InvalidOrigin(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	require.Error(t, s.RevokeOrigin(context.Background(), "not a url"))
}

func TestRestore_ReArmsPersistedJobs(t *testing.T) {
	repo := storagemem.NewRepository()
	st := state.New(repo)

	fireAt := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendLogoutJob(state.LogoutJob{ID: "job-a", TargetOrigin: "https://a.example", FireAt: fireAt}))
	require.NoError(t, st.AppendLogoutJob(state.LogoutJob{ID: "job-b", TargetOrigin: "https://b.example", FireAt: fireAt.Add(time.Hour)}))

	alarms := newManualAlarms()
	s := New(st, browsermem.New(), WithAlarms(alarms))
	require.NoError(t, s.Restore())

	require.Equal(t, fireAt, alarms.scheduled["job-a"])
	require.Equal(t, fireAt.Add(time.Hour), alarms.scheduled["job-b"])
}

func TestTimerAlarms_FiresAndCancels(t *testing.T) {
	fired := make(chan string, 2)
	a := NewTimerAlarms(func(name string) { fired <- name })
	defer a.StopAll()

	a.Schedule("soon", time.Now().Add(10*time.Millisecond))
	a.Schedule("never", time.Now().Add(time.Hour))
	a.Cancel("never")

	select {
	case name := <-fired:
		require.Equal(t, "soon", name)
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}

	select {
	case name := <-fired:
		t.Fatalf("unexpected fire: %s", name)
	case <-time.After(50 * time.Millisecond):
	}
}
