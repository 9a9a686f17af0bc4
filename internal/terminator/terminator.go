// Package terminator ends a proctoring session after the final warning.
package terminator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/audit"
	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/notify"
)

const (
	ReasonEyeContact = "eye_contact_violations"
	CheatingReason   = "Repeated eye contact violations (3 warnings)"
	BlockedMessage   = "You have been removed for repeatedly breaking interview monitoring rules."
	DefaultDelay     = 3 * time.Second
	DefaultLoginPath = "/login"
	signOutTimeout   = 10 * time.Second
)

// Identity is the authentication collaborator for one session. UserID
// returns 0 when nobody is signed in.
type Identity interface {
	UserID() int
	SignOut(ctx context.Context) error
}

// Redirector sends the candidate to another page.
type Redirector interface {
	Redirect(path string)
}

type RedirectFunc func(path string)

func (f RedirectFunc) Redirect(path string) { f(path) }

type Config struct {
	Delay     time.Duration
	LoginPath string
}

// Deps are the collaborators the sequence drives, in the order it
// drives them.
type Deps struct {
	MarkBlocked func()
	StopCapture func()
	Emitter     audit.Emitter
	Notifier    notify.Notifier
	Identity    Identity
	Redirector  Redirector
}

// Terminator runs the blocking sequence at most once per session.
type Terminator struct {
	cfg    Config
	deps   Deps
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	triggered bool
	signedOut bool
	closed    bool
	timer     clock.Timer
	done      chan struct{}
}

func New(cfg Config, deps Deps, clk clock.Clock, logger *slog.Logger) *Terminator {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	return &Terminator{
		cfg:    cfg,
		deps:   deps,
		clock:  clk,
		logger: logger.With("component", "terminator"),
		done:   make(chan struct{}),
	}
}

// Terminate blocks the session. Calls after the first, or after Close,
// do nothing.
func (t *Terminator) Terminate(reason string) {
	t.mu.Lock()
	if t.triggered || t.closed {
		t.mu.Unlock()
		return
	}
	t.triggered = true
	t.mu.Unlock()

	userID := 0
	if t.deps.Identity != nil {
		userID = t.deps.Identity.UserID()
	}
	t.logger.Warn("blocking user", "user_id", userID, "reason", reason)

	if t.deps.MarkBlocked != nil {
		t.deps.MarkBlocked()
	}
	if t.deps.StopCapture != nil {
		t.deps.StopCapture()
	}
	if userID != 0 && t.deps.Emitter != nil {
		t.deps.Emitter.Violation(userID, CheatingReason)
		t.deps.Emitter.Event(userID, audit.EventUserBlocked, map[string]any{"reason": reason})
	}
	if t.deps.Notifier != nil {
		t.deps.Notifier.Notify(BlockedMessage, notify.Error)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.timer = t.clock.AfterFunc(t.cfg.Delay, t.signOut)
}

func (t *Terminator) signOut() {
	t.mu.Lock()
	if t.closed || t.signedOut {
		t.mu.Unlock()
		return
	}
	t.signedOut = true
	t.timer = nil
	t.mu.Unlock()

	t.revoke()
	if t.deps.Redirector != nil {
		t.deps.Redirector.Redirect(t.cfg.LoginPath)
	}
	t.logger.Info("user signed out after block", "redirect", t.cfg.LoginPath)
	t.finish()
}

func (t *Terminator) revoke() {
	if t.deps.Identity == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), signOutTimeout)
	defer cancel()
	if err := t.deps.Identity.SignOut(ctx); err != nil {
		t.logger.Error("sign out failed", "error", err)
	}
}

func (t *Terminator) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

func (t *Terminator) Triggered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.triggered
}

// Close cancels the pending redirect. A session that was already blocked
// is still signed out, synchronously. After Close, Terminate does nothing.
func (t *Terminator) Close() {
	t.mu.Lock()
	t.closed = true
	pending := t.triggered && !t.signedOut
	t.signedOut = t.signedOut || pending
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if pending {
		t.logger.Info("session closed during block delay, signing out now")
		t.revoke()
	}
	t.finish()
}

// Done is closed once the redirect has been issued or the terminator
// was closed.
func (t *Terminator) Done() <-chan struct{} {
	return t.done
}
