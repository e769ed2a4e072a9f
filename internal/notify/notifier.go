package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"sitewatch/internal/monitor"
	"sitewatch/internal/store"
)

// Sender delivers a digest to one target over one channel.
type Sender interface {
	Send(ctx context.Context, target string, d Digest) error
}

// Dispatcher routes digests to the task's channel and records every
// attempt in the delivery audit log.
type Dispatcher struct {
	email   Sender
	webhook Sender
	audit   store.NotificationLog
	clock   monitor.Clock
	logger  *zap.Logger
}

// NewDispatcher wires the channel senders to the audit log.
func NewDispatcher(email, webhook Sender, audit store.NotificationLog, clock monitor.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{email: email, webhook: webhook, audit: audit, clock: clock, logger: logger}
}

// Notify delivers the digest over the task's channel. Empty digests are
// skipped without an audit entry. Delivery failure is returned to the
// caller after logging; the run itself decides whether that is fatal.
func (d *Dispatcher) Notify(ctx context.Context, task monitor.Task, digest Digest) error {
	if digest.Empty() {
		return nil
	}

	var sender Sender
	switch task.Channel {
	case monitor.ChannelEmail:
		sender = d.email
	case monitor.ChannelDingTalk:
		sender = d.webhook
	default:
		return fmt.Errorf("unknown notification channel %q", task.Channel)
	}

	sendErr := sender.Send(ctx, task.Target, digest)

	entry := monitor.NotificationLogEntry{
		Channel: task.Channel,
		Target:  task.Target,
		Success: sendErr == nil,
		Message: Subject(digest),
		At:      d.clock.Now(),
	}
	if sendErr != nil {
		entry.Message = sendErr.Error()
	}
	if payload, err := json.Marshal(digest); err == nil {
		entry.Payload = string(payload)
	}
	if err := d.audit.RecordNotification(ctx, entry); err != nil {
		d.logger.Error("record notification failed",
			zap.Int64("task_id", task.ID),
			zap.Error(err),
		)
	}

	if sendErr != nil {
		return fmt.Errorf("deliver via %s: %w", task.Channel, sendErr)
	}
	return nil
}
