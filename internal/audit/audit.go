// Package audit records proctoring events for later review.
//
// Components never talk to a store directly. They hand events to an
// Emitter, normally a Dispatcher, which persists them in order on a
// background goroutine and swallows failures after logging them.
package audit

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventEyeContactWarning EventType = "eye_contact_warning"
	EventCursorTracking    EventType = "cursor_tracking"
	EventUserBlocked       EventType = "user_blocked"
)

type Event struct {
	UserID    int            `json:"user_id"`
	EventType EventType      `json:"event_type"`
	EventData map[string]any `json:"event_data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Auditor is the storage side of the audit collaborator. Both calls may
// fail; callers are expected to go through a Dispatcher.
type Auditor interface {
	LogEvent(ctx context.Context, ev Event) error
	LogViolation(ctx context.Context, userID int, reason string) error
}

// Emitter is the fire-and-forget side used by the proctoring engine.
type Emitter interface {
	Event(userID int, eventType EventType, data map[string]any)
	Violation(userID int, reason string)
}

// LogAuditor writes events to the log only.
type LogAuditor struct {
	Logger *slog.Logger
}

func (a LogAuditor) LogEvent(_ context.Context, ev Event) error {
	a.Logger.Info("audit event", "user_id", ev.UserID, "event_type", string(ev.EventType), "event_data", ev.EventData)
	return nil
}

func (a LogAuditor) LogViolation(_ context.Context, userID int, reason string) error {
	a.Logger.Warn("audit violation", "user_id", userID, "reason", reason)
	return nil
}

// Discard drops every emission.
type Discard struct{}

func (Discard) Event(int, EventType, map[string]any) {}
func (Discard) Violation(int, string)                {}
