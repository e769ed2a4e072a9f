// Package store declares the persistence interfaces consumed by the core.
// The CRUD layer owns the schemas; this core reads task/site/phrase rows and
// writes run logs, match results, snapshots and notification audit entries.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/monitor"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// TaskStore provides read access to tasks and sites plus run bookkeeping.
type TaskStore interface {
	// GetTask loads a task with its watch phrases or returns ErrNotFound.
	GetTask(ctx context.Context, taskID int64) (monitor.Task, error)
	// ListActiveTasks returns every task with the active flag set.
	ListActiveTasks(ctx context.Context) ([]monitor.Task, error)
	// GetSite loads the site configuration for a task.
	GetSite(ctx context.Context, siteID int64) (monitor.Site, error)
	// UpdateTaskRun records lastRunAt/lastStatus after a run.
	UpdateTaskRun(ctx context.Context, taskID int64, at time.Time, status monitor.RunStatus) error
}

// SnapshotStore persists the opaque serialized snapshot blob keyed by site.
type SnapshotStore interface {
	// GetSnapshot returns the stored payload, or "" when never fetched.
	GetSnapshot(ctx context.Context, siteID int64) (string, error)
	// PutSnapshot replaces the stored payload wholesale.
	PutSnapshot(ctx context.Context, siteID int64, payload string, fetchedAt time.Time) error
}

// RunStore persists run logs, their ordered detail entries and match results.
type RunStore interface {
	CreateRun(ctx context.Context, run monitor.RunLog) error
	// FinishRun sets the terminal status and summary; a finished run is
	// immutable afterwards.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status monitor.RunStatus, summary string) error
	GetRun(ctx context.Context, runID uuid.UUID) (monitor.RunLog, error)
	// HasRunningRun reports whether the task has a run stuck in running.
	HasRunningRun(ctx context.Context, taskID int64) (bool, error)
	// FailStaleRunning marks runs left running before the cutoff as failed
	// and returns how many were swept.
	FailStaleRunning(ctx context.Context, before time.Time) (int, error)

	AppendDetail(ctx context.Context, detail monitor.RunDetail) error
	// ListDetails returns entries with Seq > afterSeq in Seq order.
	ListDetails(ctx context.Context, runID uuid.UUID, afterSeq int) ([]monitor.RunDetail, error)

	RecordMatch(ctx context.Context, match monitor.MatchResult) error
}

// NotificationLog is the append-only delivery audit trail.
type NotificationLog interface {
	RecordNotification(ctx context.Context, entry monitor.NotificationLogEntry) error
}

// SettingsStore exposes the notification channel settings, read-only here.
type SettingsStore interface {
	EmailSettings(ctx context.Context) (monitor.EmailSettings, error)
	WebhookURL(ctx context.Context) (string, error)
}

// ProxyStore lists the reloadable proxy pool entries.
type ProxyStore interface {
	ListActiveProxies(ctx context.Context) ([]monitor.ProxyEndpoint, error)
}

// Store aggregates every persistence concern the core consumes.
type Store interface {
	TaskStore
	SnapshotStore
	RunStore
	NotificationLog
	SettingsStore
	ProxyStore
}
