// Package memory provides an in-memory store implementation for
// development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/monitor"
	"sitewatch/internal/store"
)

// Store holds all state behind one RWMutex. It implements store.Store.
type Store struct {
	mu            sync.RWMutex
	tasks         map[int64]monitor.Task
	sites         map[int64]monitor.Site
	snapshots     map[int64]string
	runs          map[uuid.UUID]monitor.RunLog
	details       map[uuid.UUID][]monitor.RunDetail
	matches       []monitor.MatchResult
	notifications []monitor.NotificationLogEntry
	proxies       []monitor.ProxyEndpoint
	email         monitor.EmailSettings
	webhookURL    string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		tasks:     make(map[int64]monitor.Task),
		sites:     make(map[int64]monitor.Site),
		snapshots: make(map[int64]string),
		runs:      make(map[uuid.UUID]monitor.RunLog),
		details:   make(map[uuid.UUID][]monitor.RunDetail),
	}
}

// PutTask seeds or replaces a task.
func (s *Store) PutTask(task monitor.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

// PutSite seeds or replaces a site.
func (s *Store) PutSite(site monitor.Site) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[site.ID] = site
}

// SetEmailSettings seeds the SMTP settings.
func (s *Store) SetEmailSettings(settings monitor.EmailSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = settings
}

// SetWebhookURL seeds the group-bot webhook URL.
func (s *Store) SetWebhookURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhookURL = url
}

// SetProxies seeds the proxy pool.
func (s *Store) SetProxies(proxies []monitor.ProxyEndpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxies = append([]monitor.ProxyEndpoint(nil), proxies...)
}

// GetTask returns a task or store.ErrNotFound.
func (s *Store) GetTask(_ context.Context, taskID int64) (monitor.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return monitor.Task{}, store.ErrNotFound
	}
	return task, nil
}

// ListActiveTasks returns active tasks ordered by id.
func (s *Store) ListActiveTasks(_ context.Context) ([]monitor.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Task
	for _, task := range s.tasks {
		if task.Active {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSite returns a site or store.ErrNotFound.
func (s *Store) GetSite(_ context.Context, siteID int64) (monitor.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[siteID]
	if !ok {
		return monitor.Site{}, store.ErrNotFound
	}
	return site, nil
}

// UpdateTaskRun records bookkeeping after a run.
func (s *Store) UpdateTaskRun(_ context.Context, taskID int64, at time.Time, status monitor.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	task.LastRunAt = &at
	task.LastStatus = status
	s.tasks[taskID] = task
	return nil
}

// GetSnapshot returns the stored payload, or "" when never fetched.
func (s *Store) GetSnapshot(_ context.Context, siteID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshots[siteID], nil
}

// PutSnapshot replaces the stored payload wholesale.
func (s *Store) PutSnapshot(_ context.Context, siteID int64, payload string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[siteID] = payload
	return nil
}

// CreateRun stores a new run log.
func (s *Store) CreateRun(_ context.Context, run monitor.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// FinishRun sets the terminal status and summary.
func (s *Store) FinishRun(_ context.Context, runID uuid.UUID, finishedAt time.Time, status monitor.RunStatus, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.Summary = summary
	s.runs[runID] = run
	return nil
}

// GetRun returns a run log or store.ErrNotFound.
func (s *Store) GetRun(_ context.Context, runID uuid.UUID) (monitor.RunLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return monitor.RunLog{}, store.ErrNotFound
	}
	return run, nil
}

// HasRunningRun reports whether the task has a run stuck in running.
func (s *Store) HasRunningRun(_ context.Context, taskID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, run := range s.runs {
		if run.TaskID == taskID && run.Status == monitor.RunStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

// FailStaleRunning marks runs left running before the cutoff as failed.
func (s *Store) FailStaleRunning(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for id, run := range s.runs {
		if run.Status == monitor.RunStatusRunning && run.StartedAt.Before(before) {
			now := time.Now().UTC()
			run.Status = monitor.RunStatusFailed
			run.Summary = "swept: stuck in running"
			run.FinishedAt = &now
			s.runs[id] = run
			swept++
		}
	}
	return swept, nil
}

// AppendDetail appends one narration entry to a run.
func (s *Store) AppendDetail(_ context.Context, detail monitor.RunDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[detail.RunID] = append(s.details[detail.RunID], detail)
	return nil
}

// ListDetails returns entries with Seq > afterSeq in Seq order.
func (s *Store) ListDetails(_ context.Context, runID uuid.UUID, afterSeq int) ([]monitor.RunDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.RunDetail
	for _, d := range s.details[runID] {
		if d.Seq > afterSeq {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// RecordMatch appends a confirmed match result.
func (s *Store) RecordMatch(_ context.Context, match monitor.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, match)
	return nil
}

// Matches returns the recorded match results.
func (s *Store) Matches() []monitor.MatchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.MatchResult, len(s.matches))
	copy(out, s.matches)
	return out
}

// RecordNotification appends one delivery audit entry.
func (s *Store) RecordNotification(_ context.Context, entry monitor.NotificationLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, entry)
	return nil
}

// Notifications returns the recorded delivery audit entries.
func (s *Store) Notifications() []monitor.NotificationLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.NotificationLogEntry, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// EmailSettings returns the seeded SMTP settings.
func (s *Store) EmailSettings(_ context.Context) (monitor.EmailSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email, nil
}

// WebhookURL returns the seeded webhook URL.
func (s *Store) WebhookURL(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhookURL, nil
}

// ListActiveProxies returns the seeded active proxies.
func (s *Store) ListActiveProxies(_ context.Context) ([]monitor.ProxyEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.ProxyEndpoint
	for _, p := range s.proxies {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}
