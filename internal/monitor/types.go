// Package monitor defines core types shared across subsystems.
package monitor

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a monitoring run.
type RunStatus string

// Run status values persisted for run logs and task bookkeeping.
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status ends a run.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Channel selects the notification delivery mechanism for a task.
type Channel string

// Supported notification channels.
const (
	ChannelEmail    Channel = "email"
	ChannelDingTalk Channel = "dingtalk"
)

// Site captures the monitored website configuration read from the CRUD layer.
type Site struct {
	ID              int64
	Name            string
	URL             string
	FetchSubpages   bool
	IntervalMinutes int
	UseProxy        bool
	// TitleSelectors and BodySelectors hold selector DSL rules, one per line.
	TitleSelectors string
	BodySelectors  string
	// JSON API sites expose a list payload instead of markup.
	IsJSONAPI      bool
	APIListPath    string
	APITitlePath   string
	APIURLPath     string
	APIURLTemplate string
	APIDetailBase  string
}

// WatchPhrase is a short monitored text, optionally multi-keyword.
// Uniqueness is scoped to (CategoryID, Text) by the persistent store.
type WatchPhrase struct {
	ID         int64
	CategoryID int64
	Text       string
}

// Task references one site, a set of watch phrases and a notification target.
type Task struct {
	ID         int64
	Name       string
	SiteID     int64
	Phrases    []WatchPhrase
	Channel    Channel
	Target     string
	Active     bool
	LastRunAt  *time.Time
	LastStatus RunStatus
}

// RunLog records one execution of the fetch-detect-match-notify pipeline.
type RunLog struct {
	ID         uuid.UUID
	TaskID     int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Summary    string
}

// Detail levels used for run narration entries.
const (
	DetailInfo    = "info"
	DetailWarning = "warning"
	DetailSuccess = "success"
	DetailError   = "error"
)

// RunDetail is one timestamped progress entry within a run. Seq is strictly
// increasing per run so pollers can request "entries after N".
type RunDetail struct {
	RunID   uuid.UUID
	Seq     int
	TS      time.Time
	Level   string
	Message string
}

// MatchResult records a confirmed watch-phrase hit for a discovered URL.
type MatchResult struct {
	TaskID    int64
	SiteID    int64
	PhraseID  int64
	URL       string
	Title     string
	Score     float64
	Summary   string
	CreatedAt time.Time
}

// NotificationLogEntry is one delivery attempt, success or failure.
type NotificationLogEntry struct {
	Channel Channel
	Target  string
	Success bool
	Message string
	Payload string
	At      time.Time
}

// ProxyEndpoint is a reloadable proxy pool entry.
type ProxyEndpoint struct {
	ID       int64
	Active   bool
	HTTPURL  string
	HTTPSURL string
}

// EmailSettings carries SMTP delivery configuration, read-only to this core.
type EmailSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
	// Encrypt enables TLS; the concrete mode is negotiated from the port
	// unless ForceSTARTTLS overrides the implicit-SSL default for port 465.
	Encrypt       bool
	ForceSTARTTLS bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
