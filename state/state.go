// Package state owns the persisted local device state: user settings,
// the bounded ring of processed inbox ids, and pending logout jobs.
// Every mutation is read-modify-write of the whole record, saved
// immediately, so state survives process restarts.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/publicpass/publicpass/session"
	"github.com/publicpass/publicpass/storage"
)

const (
	bucket = "agent"

	settingsKey  = "settings"
	processedKey = "processedInboxIds"
	jobsKey      = "logoutJobs"

	// ProcessedRingSize bounds the persisted processed-id set.
	ProcessedRingSize = 100

	// DefaultTTLSeconds is the default relay-side TTL for a pushed share.
	DefaultTTLSeconds = 600

	// DefaultRelayBaseURL is used until the user configures a relay.
	DefaultRelayBaseURL = "http://localhost:8080"
)

// ErrNoUsername is a configuration error: the local username has not
// been set. It is surfaced to the user; no retry is attempted.
var ErrNoUsername = errors.New("no local username configured")

// Settings are the user-configurable options of a device.
//
// AcceptPrompt is persisted for compatibility with clients that apply
// link tokens automatically and prompt first. Here the explicit accept
// command is the consent step, so no code path consults it.
type Settings struct {
	RelayBaseURL string `json:"serverBaseUrl"`
	Username     string `json:"currentUsername"`
	TTLSeconds   int    `json:"ttlSeconds"`
	AcceptPrompt string `json:"acceptPrompt"`
}

// DefaultSettings returns the settings used before any configuration.
func DefaultSettings() Settings {
	return Settings{
		RelayBaseURL: DefaultRelayBaseURL,
		TTLSeconds:   DefaultTTLSeconds,
		AcceptPrompt: "on",
	}
}

// LogoutJob is a persisted descriptor of what to clear when a shared
// session's granted duration elapses. Cookie values are not retained.
type LogoutJob struct {
	ID                 string              `json:"id"`
	TargetOrigin       string              `json:"targetOrigin"`
	Cookies            []session.CookieRef `json:"cookies"`
	LocalStorageKeys   []string            `json:"localStorageKeys"`
	SessionStorageKeys []string            `json:"sessionStorageKeys"`
	FireAt             time.Time           `json:"fireAt"`
}

// Store wraps a repository with typed accessors for device state.
// Mutations are read-modify-write of a whole record; the mutex keeps
// them serialized across goroutines (the poll loop and fired alarms
// both touch the job list).
type Store struct {
	mu   sync.Mutex
	repo storage.Repository
}

// New returns a state store over the given repository.
func New(repo storage.Repository) *Store {
	return &Store{repo: repo}
}

// Settings loads the persisted settings, falling back to defaults for
// anything not yet configured.
func (s *Store) Settings() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := DefaultSettings()
	err := s.repo.Get(bucket, settingsKey, &settings)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	if settings.RelayBaseURL == "" {
		settings.RelayBaseURL = DefaultRelayBaseURL
	}
	if settings.TTLSeconds <= 0 {
		settings.TTLSeconds = DefaultTTLSeconds
	}
	return settings, nil
}

// SaveSettings persists the given settings.
func (s *Store) SaveSettings(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Put(bucket, settingsKey, settings); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// ProcessedInboxIDs returns the persisted processed-id ring, oldest first.
func (s *Store) ProcessedInboxIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	err := s.repo.Get(bucket, processedKey, &ids)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading processed inbox ids: %w", err)
	}
	if len(ids) > ProcessedRingSize {
		ids = ids[len(ids)-ProcessedRingSize:]
	}
	return ids, nil
}

// SaveProcessedInboxIDs persists the ring, keeping only the most recent
// ProcessedRingSize entries.
func (s *Store) SaveProcessedInboxIDs(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) > ProcessedRingSize {
		ids = ids[len(ids)-ProcessedRingSize:]
	}
	if err := s.repo.Put(bucket, processedKey, ids); err != nil {
		return fmt.Errorf("saving processed inbox ids: %w", err)
	}
	return nil
}

// LogoutJobs returns all pending logout jobs.
func (s *Store) LogoutJobs() ([]LogoutJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadJobs()
}

func (s *Store) loadJobs() ([]LogoutJob, error) {
	var jobs []LogoutJob
	err := s.repo.Get(bucket, jobsKey, &jobs)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading logout jobs: %w", err)
	}
	return jobs, nil
}

// AppendLogoutJob adds a job to the persisted list.
func (s *Store) AppendLogoutJob(job LogoutJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.loadJobs()
	if err != nil {
		return err
	}
	jobs = append(jobs, job)
	if err := s.repo.Put(bucket, jobsKey, jobs); err != nil {
		return fmt.Errorf("saving logout jobs: %w", err)
	}
	return nil
}

// TakeLogoutJob removes the job with the given id from the persisted
// list and returns it. ok is false when no such job exists, which means
// the job was already handled.
func (s *Store) TakeLogoutJob(id string) (job LogoutJob, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.loadJobs()
	if err != nil {
		return LogoutJob{}, false, err
	}
	remaining := jobs[:0]
	for _, j := range jobs {
		if j.ID == id && !ok {
			job = j
			ok = true
			continue
		}
		remaining = append(remaining, j)
	}
	if err := s.repo.Put(bucket, jobsKey, remaining); err != nil {
		return LogoutJob{}, false, fmt.Errorf("saving logout jobs: %w", err)
	}
	return job, ok, nil
}
