// Package publish emits run-completion events for downstream consumers.
package publish

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/monitor"
)

// RunCompleted is the event payload emitted after every terminal run.
type RunCompleted struct {
	RunID      uuid.UUID         `json:"run_id"`
	TaskID     int64             `json:"task_id"`
	SiteID     int64             `json:"site_id"`
	Status     monitor.RunStatus `json:"status"`
	Matches    int               `json:"matches"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Publisher delivers serialized events to a topic and returns a message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
