// Package proctor assembles one monitoring pipeline per candidate:
// capture, gaze sampling, escalation, cursor tracking and termination.
package proctor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/audit"
	"AI_PROCTOR/go-backend/internal/capture"
	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/config"
	"AI_PROCTOR/go-backend/internal/cursor"
	"AI_PROCTOR/go-backend/internal/escalation"
	"AI_PROCTOR/go-backend/internal/gaze"
	"AI_PROCTOR/go-backend/internal/models"
	"AI_PROCTOR/go-backend/internal/notify"
	"AI_PROCTOR/go-backend/internal/sampling"
	"AI_PROCTOR/go-backend/internal/terminator"

	"github.com/google/uuid"
)

const initFailedMessage = "Failed to initialize face detection. Please refresh the page."

var (
	ErrBlocked = errors.New("session is blocked")
	ErrClosed  = errors.New("session is closed")
)

// Classifier is the shared gaze classifier. *gaze.Adapter implements it.
type Classifier interface {
	Init(ctx context.Context) error
	Classify(ctx context.Context, frame models.VideoFrame) (gaze.Result, error)
}

// Observer receives pipeline events for metrics. Any method may be a
// no-op.
type Observer interface {
	GazeClassified(state models.GazeState)
	WarningIssued(count int)
	SessionBlocked()
	CursorSampled()
}

type nopObserver struct{}

func (nopObserver) GazeClassified(models.GazeState) {}
func (nopObserver) WarningIssued(int)               {}
func (nopObserver) SessionBlocked()                 {}
func (nopObserver) CursorSampled()                  {}

type Deps struct {
	Classifier Classifier
	Device     capture.Device
	Notifier   notify.Notifier
	Emitter    audit.Emitter
	Identity   terminator.Identity
	Redirector terminator.Redirector
	Observer   Observer
	Clock      clock.Clock
	Logger     *slog.Logger
}

type Session struct {
	ID        string
	UserID    int
	StartedAt time.Time

	cfg        config.Proctoring
	classifier Classifier
	notifier   notify.Notifier
	observer   Observer
	logger     *slog.Logger

	controller *capture.Controller
	loop       *sampling.Loop
	machine    *escalation.Machine
	sampler    *cursor.Sampler
	terminator *terminator.Terminator

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	operatorView bool
	closed       bool
	unsubscribe  []func()
}

func NewSession(cfg config.Proctoring, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Emitter == nil {
		deps.Emitter = audit.Discard{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{Logger: deps.Logger}
	}

	userID := 0
	if deps.Identity != nil {
		userID = deps.Identity.UserID()
	}
	id := uuid.NewString()
	logger := deps.Logger.With("session_id", id)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:         id,
		UserID:     userID,
		StartedAt:  deps.Clock.Now(),
		cfg:        cfg,
		classifier: deps.Classifier,
		notifier:   deps.Notifier,
		observer:   deps.Observer,
		logger:     logger.With("component", "proctor"),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.controller = capture.NewController(deps.Device, deps.Notifier, cfg.CaptureTimeout, logger)
	s.machine = escalation.New(escalation.Config{
		Debounce:    cfg.DebounceWindow,
		MaxWarnings: cfg.MaxWarnings,
	}, deps.Clock, deps.Emitter, deps.Notifier, userID, logger)
	s.machine.OnWarning = deps.Observer.WarningIssued

	s.sampler = cursor.NewSampler(cursor.Config{
		Capacity:      cfg.CursorCapacity,
		FlushInterval: cfg.CursorFlushInterval,
	}, deps.Clock, deps.Emitter, userID, s.machine.Blocked, logger)
	s.sampler.OnSample = deps.Observer.CursorSampled

	s.terminator = terminator.New(terminator.Config{
		Delay:     cfg.BlockDelay,
		LoginPath: cfg.LoginPath,
	}, terminator.Deps{
		MarkBlocked: s.machine.MarkBlocked,
		StopCapture: s.controller.Stop,
		Emitter:     deps.Emitter,
		Notifier:    deps.Notifier,
		Identity:    deps.Identity,
		Redirector:  deps.Redirector,
	}, deps.Clock, logger)

	s.loop = sampling.NewLoop(deps.Clock, cfg.FrameInterval, s.controller, deps.Classifier,
		sampling.SinkFunc(s.observeGaze), s.machine.Blocked, logger)

	s.controller.OnActiveChange(func(active bool) {
		if active {
			s.loop.Start(s.ctx)
		} else {
			s.loop.Stop()
		}
	})
	if cfg.EscalateOnCaptureLoss {
		s.controller.OnLost(s.captureLost)
	}
	s.machine.OnBlock(func() {
		deps.Observer.SessionBlocked()
		s.terminator.Terminate(terminator.ReasonEyeContact)
	})
	s.unsubscribe = append(s.unsubscribe, s.machine.Subscribe(func(st escalation.State) {
		if st.Status == models.StatusBlocked {
			s.sampler.Stop()
		}
	}))

	return s
}

// captureLost counts a lost camera as an absent face. A stream that ends
// because the session is being torn down is not the candidate's doing.
func (s *Session) captureLost() {
	if s.isClosed() {
		return
	}
	s.machine.Observe(models.GazeNoFace)
}

func (s *Session) observeGaze(state models.GazeState) {
	s.observer.GazeClassified(state)
	s.machine.Observe(state)
}

// Start loads the classifier, begins cursor tracking and turns the
// camera on. It blocks until the camera is live, so a transport that
// feeds the device from its read loop must call it from another
// goroutine.
func (s *Session) Start(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.machine.Blocked() {
		return ErrBlocked
	}
	s.sampler.Start()

	if err := s.classifier.Init(ctx); err != nil {
		s.logger.Error("error initializing face detection", "error", err)
		s.notifier.Notify(initFailedMessage, notify.Error)
		return fmt.Errorf("initialize classifier: %w", err)
	}
	return s.StartCapture(ctx)
}

// StartCapture turns the camera on. Failures have already been shown to
// the candidate when it returns.
func (s *Session) StartCapture(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if s.machine.Blocked() {
		return ErrBlocked
	}

	cons := capture.DefaultConstraints()
	if s.cfg.CaptureWidth > 0 && s.cfg.CaptureHeight > 0 {
		cons.Width, cons.Height = s.cfg.CaptureWidth, s.cfg.CaptureHeight
	}
	err := s.controller.Start(ctx, cons)
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if s.cfg.EscalateOnCaptureLoss {
		s.captureLost()
	}
	return err
}

func (s *Session) StopCapture() {
	s.controller.Stop()
}

// Cursor records one pointer position.
func (s *Session) Cursor(x, y float64) {
	s.sampler.Record(x, y)
}

// SetOperatorView toggles whether the operator panel may read this
// session.
func (s *Session) SetOperatorView(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operatorView = visible
}

// OperatorView returns the snapshot only while the view is enabled.
func (s *Session) OperatorView() (models.Snapshot, bool) {
	s.mu.Lock()
	visible := s.operatorView
	s.mu.Unlock()
	if !visible {
		return models.Snapshot{}, false
	}
	return s.Snapshot(), true
}

func (s *Session) Snapshot() models.Snapshot {
	st := s.machine.State()
	return models.Snapshot{
		SessionID:     s.ID,
		UserID:        s.UserID,
		GazeState:     st.GazeState,
		WarningCount:  st.WarningCount,
		MaxWarnings:   s.machine.MaxWarnings(),
		Status:        st.Status,
		CaptureActive: s.controller.IsActive(),
		Violations:    s.machine.Records(),
		Cursor:        s.sampler.Recent(s.cfg.OperatorCursorSamples),
	}
}

// OnChange registers f to run after any gaze, warning, status or
// capture change. f must not block.
func (s *Session) OnChange(f func()) {
	unsub := s.machine.Subscribe(func(escalation.State) { f() })
	s.controller.OnActiveChange(func(bool) { f() })
	s.mu.Lock()
	s.unsubscribe = append(s.unsubscribe, unsub)
	s.mu.Unlock()
}

func (s *Session) Blocked() bool {
	return s.machine.Blocked()
}

func (s *Session) CaptureState() capture.State {
	return s.controller.State()
}

// Terminated is closed once the blocked candidate has been redirected,
// or the session was closed.
func (s *Session) Terminated() <-chan struct{} {
	return s.terminator.Done()
}

// LoopDone is closed when the current sampling run exits. Nil before the
// first run.
func (s *Session) LoopDone() <-chan struct{} {
	return s.loop.Done()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the session down and cancels every pending timer.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	s.cancel()
	s.loop.Stop()
	s.controller.Stop()
	s.sampler.Stop()
	s.terminator.Close()
	for _, f := range unsub {
		f()
	}
	s.logger.Info("proctoring session closed", "user_id", s.UserID)
}
