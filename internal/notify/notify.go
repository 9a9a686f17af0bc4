// Package notify carries user-facing messages to the candidate.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

type Severity string

const (
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

type Notifier interface {
	Notify(message string, severity Severity)
}

// Func adapts a plain function to Notifier.
type Func func(message string, severity Severity)

func (f Func) Notify(message string, severity Severity) { f(message, severity) }

// Log writes notifications to a logger. Used when no candidate channel
// is attached.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(message string, severity Severity) {
	level := slog.LevelInfo
	switch severity {
	case Warning:
		level = slog.LevelWarn
	case Error:
		level = slog.LevelError
	}
	l.Logger.Log(context.Background(), level, "notification", "message", message, "severity", string(severity))
}

type Message struct {
	Text     string
	Severity Severity
}

// Recorder keeps every notification. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Notify(message string, severity Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Text: message, Severity: severity})
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
