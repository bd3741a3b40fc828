// Package expiry persists logout jobs and executes cookie and storage
// cleanup when a shared session's granted duration elapses, or
// immediately when the admin revokes it.
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/publicpass/publicpass/browser"
	"github.com/publicpass/publicpass/session"
	"github.com/publicpass/publicpass/state"
)

// Scheduler owns the persisted logout job list and its timers.
type Scheduler struct {
	state   *state.Store
	browser browser.Browser
	alarms  Alarms
	logger  *slog.Logger
	now     func() time.Time
	tabWait time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithAlarms overrides the alarm facility; tests use a manual one.
func WithAlarms(a Alarms) Option {
	return func(s *Scheduler) { s.alarms = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler. Unless WithAlarms is given, in-process timers
// fire HandleAlarm directly.
func New(st *state.Store, b browser.Browser, opts ...Option) *Scheduler {
	s := &Scheduler{
		state:   st,
		browser: b,
		logger:  slog.Default(),
		now:     time.Now,
		tabWait: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.alarms == nil {
		s.alarms = NewTimerAlarms(func(name string) {
			s.HandleAlarm(context.Background(), name)
		})
	}
	return s
}

// ScheduleLogout persists a logout job for the snapshot and arms a
// one-shot timer for now + durationSec. A non-positive duration is a
// no-op.
func (s *Scheduler) ScheduleLogout(durationSec int, snap *session.Snapshot, jobID string) error {
	if durationSec <= 0 {
		return nil
	}
	refs := make([]session.CookieRef, 0, len(snap.Cookies))
	for _, c := range snap.Cookies {
		refs = append(refs, c.Ref())
	}
	job := state.LogoutJob{
		ID:                 jobID,
		TargetOrigin:       snap.TargetOrigin,
		Cookies:            refs,
		LocalStorageKeys:   session.Keys(snap.LocalStorage),
		SessionStorageKeys: session.Keys(snap.SessionStorage),
		FireAt:             s.now().Add(time.Duration(durationSec) * time.Second),
	}
	if err := s.state.AppendLogoutJob(job); err != nil {
		return err
	}
	s.alarms.Schedule(jobID, job.FireAt)
	s.logger.Info("logout scheduled", "job", jobID, "origin", job.TargetOrigin, "fireAt", job.FireAt)
	return nil
}

// Restore re-arms timers for every persisted job; jobs already past due
// fire immediately. Call once on startup.
func (s *Scheduler) Restore() error {
	jobs, err := s.state.LogoutJobs()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		s.alarms.Schedule(job.ID, job.FireAt)
	}
	return nil
}

// HandleAlarm runs the cleanup for a fired job. The job is removed from
// the persisted list first; a missing job means it was already handled,
// for example by a revoke, and the fire is a no-op.
func (s *Scheduler) HandleAlarm(ctx context.Context, jobID string) {
	job, ok, err := s.state.TakeLogoutJob(jobID)
	if err != nil {
		s.logger.Warn("taking logout job failed", "job", jobID, "error", err)
		return
	}
	if !ok {
		return
	}

	originHost := hostOfOrigin(job.TargetOrigin)
	for _, ref := range job.Cookies {
		if err := s.browser.Remove(ctx, removeOptions(ref, originHost)); err != nil {
			s.logger.Warn("cookie delete failed", "job", jobID, "cookie", ref.Name, "error", err)
		}
	}

	if err := s.clearStorage(ctx, job.TargetOrigin, func(ctx context.Context, tab browser.TabID) error {
		return s.browser.RemoveKeys(ctx, tab, job.LocalStorageKeys, job.SessionStorageKeys)
	}); err != nil {
		s.logger.Warn("storage cleanup failed", "job", jobID, "error", err)
	}

	s.browser.Notify(ctx, "PublicPass", "Session auto-logout complete")
	s.logger.Info("logout job executed", "job", jobID, "origin", job.TargetOrigin)
}

// RevokeOrigin immediately deletes every cookie set for the origin's
// host and clears its page storage. It does not require a matching
// logout job; a pending job for the same origin is superseded, and its
// eventual fire finds nothing left to delete.
func (s *Scheduler) RevokeOrigin(ctx context.Context, targetOrigin string) error {
	host := hostOfOrigin(targetOrigin)
	if host == "" {
		return fmt.Errorf("invalid target origin: %s", targetOrigin)
	}
	cookies, err := s.browser.GetAllByDomain(ctx, host)
	if err != nil {
		return fmt.Errorf("listing cookies for %s: %w", host, err)
	}
	for _, c := range cookies {
		if err := s.browser.Remove(ctx, removeOptions(c.Ref(), host)); err != nil {
			s.logger.Warn("cookie delete failed", "origin", targetOrigin, "cookie", c.Name, "error", err)
		}
	}
	if err := s.clearStorage(ctx, targetOrigin, s.browser.ClearAll); err != nil {
		s.logger.Warn("storage cleanup failed", "origin", targetOrigin, "error", err)
	}
	s.logger.Info("origin revoked", "origin", targetOrigin)
	return nil
}

// clearStorage opens a background tab at origin, runs clear against its
// page context, and closes the tab again.
func (s *Scheduler) clearStorage(ctx context.Context, origin string, clear func(context.Context, browser.TabID) error) error {
	tab, err := s.browser.Open(ctx, origin, false)
	if err != nil {
		return fmt.Errorf("opening cleanup tab: %w", err)
	}
	defer s.browser.Close(ctx, tab)

	waitCtx, cancel := context.WithTimeout(ctx, s.tabWait)
	defer cancel()
	if err := s.browser.WaitComplete(waitCtx, tab); err != nil {
		return fmt.Errorf("waiting for cleanup tab: %w", err)
	}
	return clear(ctx, tab)
}

func hostOfOrigin(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// removeOptions builds the deletion call for a reduced cookie, using the
// best available identity: explicit domain, fallback host, then the
// job's origin host.
func removeOptions(ref session.CookieRef, originHost string) browser.RemoveCookie {
	host := strings.TrimPrefix(ref.Domain, ".")
	if host == "" {
		host = ref.DomainFallback
	}
	if host == "" {
		host = originHost
	}
	scheme := "http"
	if ref.Secure {
		scheme = "https"
	}
	path := ref.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return browser.RemoveCookie{
		URL:          scheme + "://" + host + path,
		Name:         ref.Name,
		StoreID:      ref.StoreID,
		PartitionKey: ref.PartitionKey,
	}
}
