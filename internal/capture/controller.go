// Package capture owns the candidate's camera stream: starting it,
// classifying failures, handing out the latest frame and releasing it.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/models"
	"AI_PROCTOR/go-backend/internal/notify"
)

const (
	playbackErrorMessage = "Error starting video playback"
	streamErrorMessage   = "Error displaying video stream"
)

type Constraints struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FacingMode string `json:"facing_mode"`
	Audio      bool   `json:"audio"`
}

// DefaultConstraints asks for a front-facing 640x480 video-only stream.
func DefaultConstraints() Constraints {
	return Constraints{Width: 640, Height: 480, FacingMode: "user"}
}

// Device grants camera streams.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a granted camera stream.
type Stream interface {
	// Ready blocks until the stream can deliver frames.
	Ready(ctx context.Context) error
	// Frame returns the most recent frame, if any.
	Frame() (models.VideoFrame, bool)
	// Done is closed when the stream ends for any reason.
	Done() <-chan struct{}
	Close() error
}

type State struct {
	Active    bool        `json:"active"`
	LastError FailureKind `json:"last_error,omitempty"`
}

type Controller struct {
	device       Device
	notifier     notify.Notifier
	logger       *slog.Logger
	readyTimeout time.Duration

	mu          sync.Mutex
	stream      Stream
	active      bool
	starting    bool
	cancelStart context.CancelFunc
	lastError   FailureKind
	watchers    []func(active bool)
	lostHooks   []func()
}

func NewController(device Device, notifier notify.Notifier, readyTimeout time.Duration, logger *slog.Logger) *Controller {
	return &Controller{
		device:       device,
		notifier:     notifier,
		logger:       logger.With("component", "capture"),
		readyTimeout: readyTimeout,
	}
}

// OnActiveChange registers fn to be called whenever the active flag flips.
func (c *Controller) OnActiveChange(fn func(active bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// OnLost registers fn to be called when an active stream ends without
// Stop being called.
func (c *Controller) OnLost(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostHooks = append(c.lostHooks, fn)
}

// Start requests a stream and returns once it is ready. Calling Start
// while a stream is active or being started is a no-op.
func (c *Controller) Start(ctx context.Context, cons Constraints) error {
	c.mu.Lock()
	if c.active || c.starting {
		c.mu.Unlock()
		return nil
	}
	startCtx, cancel := context.WithCancel(ctx)
	c.starting = true
	c.cancelStart = cancel
	c.mu.Unlock()
	defer cancel()

	stream, err := c.device.Open(startCtx, cons)
	if err != nil {
		if startCtx.Err() != nil {
			return c.abort(err)
		}
		return c.fail(Classify(err), "", err)
	}

	readyCtx := startCtx
	if c.readyTimeout > 0 {
		var readyCancel context.CancelFunc
		readyCtx, readyCancel = context.WithTimeout(startCtx, c.readyTimeout)
		defer readyCancel()
	}
	if err := stream.Ready(readyCtx); err != nil {
		if cerr := stream.Close(); cerr != nil {
			c.logger.Warn("failed to release stream", "error", cerr)
		}
		if startCtx.Err() != nil {
			return c.abort(err)
		}
		return c.fail(FailureUnknown, playbackErrorMessage, err)
	}

	c.mu.Lock()
	if startCtx.Err() != nil {
		// Stop raced with a successful grant.
		c.starting = false
		c.cancelStart = nil
		c.mu.Unlock()
		_ = stream.Close()
		return context.Canceled
	}
	c.stream = stream
	c.active = true
	c.starting = false
	c.cancelStart = nil
	c.lastError = FailureNone
	c.mu.Unlock()

	c.logger.Info("capture started", "width", cons.Width, "height", cons.Height)
	go c.watch(stream)
	c.emit(true)
	return nil
}

// abort handles a start cancelled by Stop or by the caller's context.
// Nothing is surfaced to the candidate.
func (c *Controller) abort(err error) error {
	c.mu.Lock()
	c.starting = false
	c.cancelStart = nil
	c.mu.Unlock()
	c.logger.Debug("capture start aborted", "error", err)
	return context.Canceled
}

func (c *Controller) fail(kind FailureKind, message string, err error) error {
	if message == "" {
		message = kind.Message()
	}
	c.mu.Lock()
	c.starting = false
	c.cancelStart = nil
	c.lastError = kind
	c.mu.Unlock()

	c.logger.Error("error accessing camera", "kind", string(kind), "error", err)
	c.notifier.Notify(message, notify.Error)
	return &Error{Kind: kind, Message: message, Err: err}
}

func (c *Controller) watch(stream Stream) {
	<-stream.Done()

	c.mu.Lock()
	if c.stream != stream {
		c.mu.Unlock()
		return
	}
	c.stream = nil
	c.active = false
	c.lastError = FailureUnknown
	hooks := append([]func(){}, c.lostHooks...)
	c.mu.Unlock()

	c.logger.Warn("capture stream ended unexpectedly")
	c.notifier.Notify(streamErrorMessage, notify.Error)
	c.emit(false)
	for _, fn := range hooks {
		fn()
	}
}

// Stop releases the stream. Safe to call at any time, any number of times.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.cancelStart != nil {
		c.cancelStart()
	}
	stream := c.stream
	wasActive := c.active
	c.stream = nil
	c.active = false
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil && !errors.Is(err, ErrStreamClosed) {
			c.logger.Warn("failed to release stream", "error", err)
		}
	}
	if wasActive {
		c.logger.Info("capture stopped")
		c.emit(false)
	}
}

func (c *Controller) emit(active bool) {
	c.mu.Lock()
	watchers := append([]func(bool){}, c.watchers...)
	c.mu.Unlock()
	for _, fn := range watchers {
		fn(active)
	}
}

func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Active: c.active, LastError: c.lastError}
}

// Frame returns the latest frame of the active stream.
func (c *Controller) Frame() (models.VideoFrame, bool) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return models.VideoFrame{}, false
	}
	return stream.Frame()
}
