// Package escalation turns gaze classifications into warnings and,
// after repeated violations, a blocked session.
package escalation

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/audit"
	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/models"
	"AI_PROCTOR/go-backend/internal/notify"
)

const warningFormat = "Warning %d/%d: Please maintain eye contact with the camera."

type Config struct {
	// Debounce is the minimum spacing between two counted violations.
	Debounce    time.Duration
	MaxWarnings int
}

// State is what display subscribers see after every change.
type State struct {
	GazeState    models.GazeState
	WarningCount int
	Status       models.SessionStatus
}

// Machine is the single writer of the warning count and session status.
type Machine struct {
	cfg      Config
	clock    clock.Clock
	emitter  audit.Emitter
	notifier notify.Notifier
	userID   int
	logger   *slog.Logger

	mu            sync.Mutex
	gaze          models.GazeState
	count         int
	status        models.SessionStatus
	lastViolation time.Time
	debouncing    bool
	records       []models.ViolationRecord
	onBlock       []func()
	subs          map[int]func(State)
	nextSub       int

	// Metrics hooks; nil is fine.
	OnWarning func(count int)
}

// New builds a machine for one session. A zero userID means nobody is
// signed in: warnings are still shown but not audited.
func New(cfg Config, clk clock.Clock, emitter audit.Emitter, notifier notify.Notifier, userID int, logger *slog.Logger) *Machine {
	if cfg.MaxWarnings <= 0 {
		cfg.MaxWarnings = 3
	}
	return &Machine{
		cfg:      cfg,
		clock:    clk,
		emitter:  emitter,
		notifier: notifier,
		userID:   userID,
		logger:   logger.With("component", "escalation", "user_id", userID),
		gaze:     models.GazeChecking,
		status:   models.StatusMonitoring,
		subs:     make(map[int]func(State)),
	}
}

// OnBlock registers f to run once, outside the machine lock, when the
// session becomes blocked by the final warning.
func (m *Machine) OnBlock(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBlock = append(m.onBlock, f)
}

// Subscribe registers a read-only observer and returns its cancel func.
func (m *Machine) Subscribe(f func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = f
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Observe feeds one classification result into the machine.
func (m *Machine) Observe(s models.GazeState) {
	m.mu.Lock()
	if m.status == models.StatusBlocked {
		m.mu.Unlock()
		return
	}

	changed := m.gaze != s
	m.gaze = s

	warning := 0
	blocked := false
	switch {
	case s == models.GazeGood:
		m.debouncing = false
	case s.IsViolation():
		now := m.clock.Now()
		if m.debouncing && now.Sub(m.lastViolation) < m.cfg.Debounce {
			break
		}
		m.count++
		m.lastViolation = now
		m.debouncing = true
		m.records = append(m.records, models.ViolationRecord{WarningNumber: m.count, TriggeredAt: now})
		warning = m.count
		changed = true
		if m.count >= m.cfg.MaxWarnings {
			m.status = models.StatusBlocked
			blocked = true
		}
	}

	state := m.stateLocked()
	var subs []func(State)
	if changed {
		subs = m.subscribersLocked()
	}
	var hooks []func()
	if blocked {
		hooks = m.onBlock
		m.onBlock = nil
	}
	m.mu.Unlock()

	if warning > 0 {
		m.warn(warning, s)
	}
	for _, f := range subs {
		f(state)
	}
	for _, f := range hooks {
		f()
	}
}

func (m *Machine) warn(k int, cause models.GazeState) {
	m.logger.Warn("eye contact violation", "warning", k, "gaze_state", string(cause))
	if m.userID != 0 {
		m.emitter.Event(m.userID, audit.EventEyeContactWarning, map[string]any{"warningNumber": k})
	}
	m.notifier.Notify(fmt.Sprintf(warningFormat, k, m.cfg.MaxWarnings), notify.Warning)
	if m.OnWarning != nil {
		m.OnWarning(k)
	}
}

// MarkBlocked moves the session to blocked without a warning. Idempotent.
// It does not run the block handlers.
func (m *Machine) MarkBlocked() {
	m.mu.Lock()
	if m.status == models.StatusBlocked {
		m.mu.Unlock()
		return
	}
	m.status = models.StatusBlocked
	m.onBlock = nil
	state := m.stateLocked()
	subs := m.subscribersLocked()
	m.mu.Unlock()

	for _, f := range subs {
		f(state)
	}
}

func (m *Machine) Blocked() bool {
	return m.Status() == models.StatusBlocked
}

func (m *Machine) Status() models.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) WarningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *Machine) GazeState() models.GazeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gaze
}

func (m *Machine) MaxWarnings() int {
	return m.cfg.MaxWarnings
}

// Records returns a copy of the violation history, oldest first.
func (m *Machine) Records() []models.ViolationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ViolationRecord, len(m.records))
	copy(out, m.records)
	return out
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Machine) stateLocked() State {
	return State{GazeState: m.gaze, WarningCount: m.count, Status: m.status}
}

func (m *Machine) subscribersLocked() []func(State) {
	out := make([]func(State), 0, len(m.subs))
	for _, f := range m.subs {
		out = append(out, f)
	}
	return out
}
